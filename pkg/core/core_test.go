package core

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeResource struct {
	id    Identity
	nics  int
	tags  []Tag
	scope string
}

func (f fakeResource) Identity() Identity         { return f.id }
func (f fakeResource) NetworkInterfaceCount() int { return f.nics }
func (f fakeResource) Tags() []Tag                { return f.tags }

func (f fakeResource) ScopeIDFromResource() (string, bool) {
	return f.scope, f.scope != ""
}

func strp(s string) *string { return &s }

func TestInferOS_TagOverridesImageReference(t *testing.T) {
	h := OSHints{
		LinuxConfiguration: true,
		Image: &ImageReference{
			Publisher: strp("Canonical"),
			Offer:     strp("Ubuntu Server"),
			SKU:       strp("18.04 LTS"),
		},
		Tags: []Tag{{Key: "OS", Value: "CustomLinux"}},
	}

	info, err := InferOS(h, InferOptions{})
	if err != nil {
		t.Fatalf("InferOS returned error: %v", err)
	}
	if info.Name != "CustomLinux" {
		t.Errorf("InferOS name = %q, want %q", info.Name, "CustomLinux")
	}
	if info.Type != "Linux" {
		t.Errorf("InferOS type = %q, want %q", info.Type, "Linux")
	}
}

func TestInferOS_NoMarkers(t *testing.T) {
	info, err := InferOS(OSHints{}, InferOptions{})
	if err != nil {
		t.Fatalf("InferOS returned error: %v", err)
	}
	if diff := cmp.Diff(UnknownOS(), info, cmp.AllowUnexported(DiskSize{})); diff != "" {
		t.Errorf("InferOS mismatch (-want +got):\n%s", diff)
	}
}

func TestInferOS_Priority(t *testing.T) {
	tests := []struct {
		name     string
		hints    OSHints
		wantType string
		wantName string
		wantDisk string
	}{
		{
			name:     "linux block beats windows block",
			hints:    OSHints{LinuxConfiguration: true, WindowsConfiguration: true},
			wantType: "Linux",
			wantName: Unknown,
			wantDisk: Unknown,
		},
		{
			name:     "windows block",
			hints:    OSHints{WindowsConfiguration: true, OSType: strp("Linux")},
			wantType: "Windows",
			wantName: Unknown,
			wantDisk: Unknown,
		},
		{
			name:     "explicit marker",
			hints:    OSHints{OSType: strp("Windows"), DiskSizeGB: strp("127")},
			wantType: "Windows",
			wantName: Unknown,
			wantDisk: "127",
		},
		{
			name: "publisher and offer without sku",
			hints: OSHints{Image: &ImageReference{
				Publisher: strp("MicrosoftWindowsServer"),
				Offer:     strp("WindowsServer"),
			}},
			wantType: Unknown,
			wantName: "MicrosoftWindowsServer WindowsServer",
			wantDisk: Unknown,
		},
		{
			name:     "loose matcher false positive on costcenter",
			hints:    OSHints{Tags: []Tag{{Key: "costcenter", Value: "1234"}, {Key: "os", Value: "RHEL"}}},
			wantType: Unknown,
			wantName: "1234",
			wantDisk: Unknown,
		},
		{
			name:     "first matching tag wins",
			hints:    OSHints{Tags: []Tag{{Key: "OperatingSystem", Value: "Debian"}, {Key: "os", Value: "RHEL"}}},
			wantType: Unknown,
			wantName: "Debian",
			wantDisk: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := InferOS(tt.hints, InferOptions{})
			if err != nil {
				t.Fatalf("InferOS returned error: %v", err)
			}
			if info.Type != tt.wantType {
				t.Errorf("type = %q, want %q", info.Type, tt.wantType)
			}
			if info.Name != tt.wantName {
				t.Errorf("name = %q, want %q", info.Name, tt.wantName)
			}
			if got := info.DiskSizeGB.String(); got != tt.wantDisk {
				t.Errorf("disk = %q, want %q", got, tt.wantDisk)
			}
		})
	}
}

func TestInferOS_StrictMatcherSkipsCostCenter(t *testing.T) {
	h := OSHints{Tags: []Tag{{Key: "costcenter", Value: "1234"}, {Key: "os", Value: "RHEL"}}}

	info, err := InferOS(h, InferOptions{TagMatcher: TagMatcherByName("strict")})
	if err != nil {
		t.Fatalf("InferOS returned error: %v", err)
	}
	if info.Name != "RHEL" {
		t.Errorf("name = %q, want %q", info.Name, "RHEL")
	}
}

func TestInferOS_NonNumericDiskKeepsPartialInfo(t *testing.T) {
	h := OSHints{
		LinuxConfiguration: true,
		DiskSizeGB:         strp("thirty"),
		ResourceName:       "vm-x",
	}

	info, err := InferOS(h, InferOptions{})
	if err == nil {
		t.Fatalf("expected error for non-numeric disk size")
	}
	if info.Type != "Linux" {
		t.Errorf("type = %q, want partial info to keep %q", info.Type, "Linux")
	}
	if _, ok := info.DiskSizeGB.Get(); ok {
		t.Errorf("disk size should be unknown, got %v", info.DiskSizeGB)
	}
}

func TestNormalize_DefaultsEveryField(t *testing.T) {
	rec := Normalize("azure", fakeResource{}, Scope{}, nil, nil)

	for field, v := range map[string]string{
		"name":         rec.Name,
		"group":        rec.Group,
		"location":     rec.Location,
		"scopeName":    rec.ScopeName,
		"scopeId":      rec.ScopeID,
		"sizeOrClass":  rec.SizeOrClass,
		"powerOrState": rec.PowerOrState,
		"osType":       rec.OSType,
		"osName":       rec.OSName,
		"osVersion":    rec.OSVersion,
		"diskSizeGB":   rec.DiskSizeGB.String(),
	} {
		if v != Unknown {
			t.Errorf("%s = %q, want %q", field, v, Unknown)
		}
	}
	if rec.Tags == nil {
		t.Errorf("tags should be an empty map, got nil")
	}
	if rec.NetworkInterfaceCount != 0 {
		t.Errorf("networkInterfaceCount = %d, want 0", rec.NetworkInterfaceCount)
	}
}

func TestNormalize_ScopeIDFromResource(t *testing.T) {
	res := fakeResource{id: Identity{Name: strp("vm-a")}, scope: "sub-1"}

	rec := Normalize("azure", res, Scope{Name: "Prod"}, nil, nil)
	if rec.ScopeID != "sub-1" {
		t.Errorf("scopeId = %q, want %q", rec.ScopeID, "sub-1")
	}

	rec = Normalize("azure", res, Scope{Name: "Prod", ID: "sub-2"}, nil, nil)
	if rec.ScopeID != "sub-2" {
		t.Errorf("scopeId = %q, want supplied %q", rec.ScopeID, "sub-2")
	}
}

func TestNormalize_PowerOverridesListingState(t *testing.T) {
	res := fakeResource{id: Identity{Name: strp("vm-a"), State: strp("Succeeded")}}

	if rec := Normalize("azure", res, Scope{}, nil, nil); rec.PowerOrState != "Succeeded" {
		t.Errorf("powerOrState = %q, want listing state", rec.PowerOrState)
	}
	if rec := Normalize("azure", res, Scope{}, nil, strp("VM running")); rec.PowerOrState != "VM running" {
		t.Errorf("powerOrState = %q, want %q", rec.PowerOrState, "VM running")
	}
}

func TestNormalizeAll_FastPassLeavesOSUnknown(t *testing.T) {
	inputs := []Input{
		{Resource: fakeResource{id: Identity{Name: strp("vm-a")}, tags: []Tag{{Key: "os", Value: "Ubuntu"}}}},
		{Resource: fakeResource{id: Identity{Name: strp("vm-b")}}},
	}

	records := NormalizeAll("azure", Scope{Name: "s", ID: "1"}, inputs)
	if len(records) != len(inputs) {
		t.Fatalf("NormalizeAll returned %d records, want %d", len(records), len(inputs))
	}
	for _, r := range records {
		if r.OSType != Unknown || r.OSName != Unknown || r.OSVersion != Unknown || r.DiskSizeGB.String() != Unknown {
			t.Errorf("record %s has OS fields set in fast pass: %+v", r.Name, r)
		}
	}
	if records[0].Name != "vm-a" || records[1].Name != "vm-b" {
		t.Errorf("NormalizeAll did not preserve input order: %q, %q", records[0].Name, records[1].Name)
	}
}

func TestNormalizeAll_Empty(t *testing.T) {
	if got := NormalizeAll("azure", Scope{}, nil); len(got) != 0 {
		t.Errorf("NormalizeAll(nil) = %d records, want 0", len(got))
	}
}

func mixedBatch() []Record {
	mk := func(name, osType, location string) Record {
		return Normalize("azure",
			fakeResource{id: Identity{Name: strp(name), Location: strp(location)}},
			Scope{Name: "s", ID: "1"},
			&OSInfo{Type: osType},
			nil)
	}
	return []Record{
		mk("vm-a", "Linux", "East US"),
		mk("vm-b", "Windows", "East US"),
		mk("vm-c", "Linux", "West US"),
	}
}

func TestSummarize_MixedBatch(t *testing.T) {
	s := Summarize(mixedBatch())

	want := Summary{
		ByOSType:   map[string]int{"Linux": 2, "Windows": 1},
		ByState:    map[string]int{Unknown: 3},
		ByLocation: map[string]int{"East US": 2, "West US": 1},
		Total:      3,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || len(s.ByOSType) != 0 || len(s.ByState) != 0 || len(s.ByLocation) != 0 {
		t.Errorf("Summarize(nil) = %+v, want empty", s)
	}
}

func TestSummarize_IdempotentAndOrderIndependent(t *testing.T) {
	records := mixedBatch()
	first := Summarize(records)
	second := Summarize(records)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Summarize not idempotent (-first +second):\n%s", diff)
	}

	reversed := []Record{records[2], records[1], records[0]}
	if diff := cmp.Diff(first, Summarize(reversed)); diff != "" {
		t.Errorf("Summarize depends on order (-want +got):\n%s", diff)
	}
}

func TestBuckets_Lexicographic(t *testing.T) {
	got := Buckets(map[string]int{"West US": 1, "East US": 2, Unknown: 4, "Central": 1})
	want := []Bucket{{"Central", 1}, {"East US", 2}, {Unknown, 4}, {"West US", 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestSortRecords(t *testing.T) {
	in := []Record{
		{ScopeName: "b", Group: "rg", Name: "x"},
		{ScopeName: "a", Group: "rg2", Name: "y"},
		{ScopeName: "a", Group: "rg1", Name: "z"},
	}
	got := SortRecords(in)
	if got[0].Name != "z" || got[1].Name != "y" || got[2].Name != "x" {
		t.Errorf("SortRecords order = %q %q %q", got[0].Name, got[1].Name, got[2].Name)
	}
	if in[0].Name != "x" {
		t.Errorf("SortRecords modified its input")
	}
}

func TestDiskSizeJSON(t *testing.T) {
	tests := []struct {
		in   DiskSize
		want string
	}{
		{KnownDiskSize(30), "30"},
		{UnknownDiskSize, `"Unknown"`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("Marshal(%v) returned error: %v", tt.in, err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.in, b, tt.want)
		}
	}
}

func TestDiskSizeUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`30`, "30"},
		{`"30"`, "30"},
		{`" 127 "`, "127"},
		{`"Unknown"`, Unknown},
		{`"thirty"`, Unknown},
	}
	for _, tt := range tests {
		var d DiskSize
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Fatalf("Unmarshal(%s) returned error: %v", tt.in, err)
		}
		if got := d.String(); got != tt.want {
			t.Errorf("Unmarshal(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
