package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/util"
)

// AzureVM is the raw description of an Azure virtual machine, shaped like the
// JSON emitted by "az vm list" / "az vm show". The SDK backend converts its
// models into the same shape.
type AzureVM struct {
	ID              *string               `json:"id,omitempty"`
	Name            *string               `json:"name,omitempty"`
	ResourceGroup   *string               `json:"resourceGroup,omitempty"`
	Location        *string               `json:"location,omitempty"`
	PowerState      *string               `json:"powerState,omitempty"`
	HardwareProfile *AzureHardwareProfile `json:"hardwareProfile,omitempty"`
	OSProfile       *AzureOSProfile       `json:"osProfile,omitempty"`
	StorageProfile  *AzureStorageProfile  `json:"storageProfile,omitempty"`
	NetworkProfile  *AzureNetworkProfile  `json:"networkProfile,omitempty"`
	TagSet          map[string]string     `json:"tags,omitempty"`

	// tagOrder is the key order of the decoded "tags" object.
	tagOrder []string
}

// UnmarshalJSON decodes az output and remembers the order of the tag keys.
func (vm *AzureVM) UnmarshalJSON(b []byte) error {
	type plain AzureVM
	var v struct {
		plain
		Tags json.RawMessage `json:"tags,omitempty"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	tags, order, err := decodeOrderedTags(v.Tags)
	if err != nil {
		return err
	}
	*vm = AzureVM(v.plain)
	vm.TagSet = tags
	vm.tagOrder = order
	return nil
}

// decodeOrderedTags decodes a JSON object of tags, keeping its key order.
// Null values become empty strings.
func decodeOrderedTags(raw json.RawMessage) (map[string]string, []string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("tags: want object, got %v", tok)
	}

	tags := map[string]string{}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var val *string
		if err := dec.Decode(&val); err != nil {
			return nil, nil, fmt.Errorf("tag %q: %w", key, err)
		}
		if _, seen := tags[key]; !seen {
			order = append(order, key)
		}
		tags[key] = core.StringOr(val, "")
	}
	return tags, order, nil
}

// AzureHardwareProfile holds the VM size.
type AzureHardwareProfile struct {
	VMSize *string `json:"vmSize,omitempty"`
}

// AzureOSProfile carries at most one of the OS specific configuration
// blocks. A null block decodes to nil.
type AzureOSProfile struct {
	ComputerName         *string                    `json:"computerName,omitempty"`
	LinuxConfiguration   *AzureLinuxConfiguration   `json:"linuxConfiguration,omitempty"`
	WindowsConfiguration *AzureWindowsConfiguration `json:"windowsConfiguration,omitempty"`
}

// AzureLinuxConfiguration is the Linux block of an OS profile.
type AzureLinuxConfiguration struct {
	DisablePasswordAuthentication *bool `json:"disablePasswordAuthentication,omitempty"`
	ProvisionVMAgent              *bool `json:"provisionVmAgent,omitempty"`
}

// AzureWindowsConfiguration is the Windows block of an OS profile.
type AzureWindowsConfiguration struct {
	ProvisionVMAgent       *bool   `json:"provisionVmAgent,omitempty"`
	EnableAutomaticUpdates *bool   `json:"enableAutomaticUpdates,omitempty"`
	TimeZone               *string `json:"timeZone,omitempty"`
}

// AzureStorageProfile holds the image reference and OS disk.
type AzureStorageProfile struct {
	ImageReference *AzureImageReference `json:"imageReference,omitempty"`
	OSDisk         *AzureOSDisk         `json:"osDisk,omitempty"`
}

// AzureImageReference identifies the marketplace image.
type AzureImageReference struct {
	Publisher    *string `json:"publisher,omitempty"`
	Offer        *string `json:"offer,omitempty"`
	SKU          *string `json:"sku,omitempty"`
	Version      *string `json:"version,omitempty"`
	ExactVersion *string `json:"exactVersion,omitempty"`
}

// AzureOSDisk describes the OS disk. DiskSizeGB is kept raw because the CLI
// has been seen to emit it both as a number and as a string.
type AzureOSDisk struct {
	Name           *string              `json:"name,omitempty"`
	OSType         *string              `json:"osType,omitempty"`
	DiskSizeGB     json.RawMessage      `json:"diskSizeGB,omitempty"`
	ImageReference *AzureImageReference `json:"imageReference,omitempty"`
}

// AzureNetworkProfile lists the attached network interfaces.
type AzureNetworkProfile struct {
	NetworkInterfaces []AzureNetworkInterfaceReference `json:"networkInterfaces,omitempty"`
}

// AzureNetworkInterfaceReference points at one NIC.
type AzureNetworkInterfaceReference struct {
	ID      *string `json:"id,omitempty"`
	Primary *bool   `json:"primary,omitempty"`
}

// Identity implements core.Resource.
func (vm AzureVM) Identity() core.Identity {
	id := core.Identity{
		ID:       vm.ID,
		Name:     vm.Name,
		Group:    vm.ResourceGroup,
		Location: vm.Location,
		State:    vm.PowerState,
	}
	if id.Group == nil && vm.ID != nil {
		if rg, ok := util.ResourceGroupFromResourceID(*vm.ID); ok {
			id.Group = &rg
		}
	}
	if vm.HardwareProfile != nil {
		id.SizeOrClass = vm.HardwareProfile.VMSize
	}
	return id
}

// NetworkInterfaceCount implements core.Resource.
func (vm AzureVM) NetworkInterfaceCount() int {
	if vm.NetworkProfile == nil {
		return 0
	}
	return len(vm.NetworkProfile.NetworkInterfaces)
}

// Tags implements core.Resource. Tags decoded from az output keep the order
// the CLI printed them in; otherwise the keys are sorted.
func (vm AzureVM) Tags() []core.Tag {
	if len(vm.tagOrder) != len(vm.TagSet) {
		return sortedTags(vm.TagSet)
	}
	tags := make([]core.Tag, 0, len(vm.tagOrder))
	for _, k := range vm.tagOrder {
		v, ok := vm.TagSet[k]
		if !ok {
			return sortedTags(vm.TagSet)
		}
		tags = append(tags, core.Tag{Key: k, Value: v})
	}
	return tags
}

// ScopeIDFromResource implements core.ScopeIDResolver.
func (vm AzureVM) ScopeIDFromResource() (string, bool) {
	if vm.ID == nil {
		return "", false
	}
	return util.SubscriptionFromResourceID(*vm.ID)
}

// OSHints implements core.OSDescriber.
func (vm AzureVM) OSHints() core.OSHints {
	h := core.OSHints{
		Tags:         vm.Tags(),
		ResourceName: core.StringOr(vm.Name, core.Unknown),
	}

	if p := vm.OSProfile; p != nil {
		h.LinuxConfiguration = p.LinuxConfiguration != nil
		h.WindowsConfiguration = p.WindowsConfiguration != nil
	}

	if sp := vm.StorageProfile; sp != nil {
		img := sp.ImageReference
		if d := sp.OSDisk; d != nil {
			h.OSType = d.OSType
			h.DiskSizeGB = rawScalar(d.DiskSizeGB)
			if img == nil {
				img = d.ImageReference
			}
		}
		if img != nil {
			version := img.ExactVersion
			if version == nil {
				version = img.Version
			}
			h.Image = &core.ImageReference{
				Publisher: img.Publisher,
				Offer:     img.Offer,
				SKU:       img.SKU,
				Version:   version,
			}
		}
	}

	return h
}

// rawScalar returns the text of a JSON number or string, or nil for an
// absent or null value.
func rawScalar(raw json.RawMessage) *string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &str
	}
	return &s
}

func sortedTags(m map[string]string) []core.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]core.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, core.Tag{Key: k, Value: m[k]})
	}
	return tags
}

// AzureInstanceView is the subset of "az vm get-instance-view" used for the
// power state lookup.
type AzureInstanceView struct {
	InstanceView *struct {
		Statuses []AzureInstanceViewStatus `json:"statuses,omitempty"`
	} `json:"instanceView,omitempty"`
}

// AzureInstanceViewStatus is one status entry of an instance view.
type AzureInstanceViewStatus struct {
	Code          *string `json:"code,omitempty"`
	DisplayStatus *string `json:"displayStatus,omitempty"`
}

// powerStateFromStatuses returns the display status of the PowerState/*
// entry, e.g. "VM running".
func powerStateFromStatuses(statuses []AzureInstanceViewStatus) (string, bool) {
	for _, s := range statuses {
		if s.Code == nil || !strings.HasPrefix(*s.Code, "PowerState/") {
			continue
		}
		if s.DisplayStatus != nil && *s.DisplayStatus != "" {
			return *s.DisplayStatus, true
		}
		return strings.TrimPrefix(*s.Code, "PowerState/"), true
	}
	return "", false
}
