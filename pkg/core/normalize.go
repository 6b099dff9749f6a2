package core

// Input is one raw resource together with whatever detail lookups produced
// for it. OS and Power are nil when the lookup was not requested or failed.
type Input struct {
	Resource Resource
	OS       *OSInfo
	Power    *string
}

// Normalize builds the Record for one raw resource. It never performs OS
// inference itself: when os is nil every OS field stays Unknown. A nil power
// falls back to the state carried by the listing, then Unknown.
func Normalize(provider string, res Resource, scope Scope, os *OSInfo, power *string) Record {
	id := res.Identity()

	rec := Record{
		Provider:              provider,
		ID:                    StringOr(id.ID, ""),
		Name:                  StringOr(id.Name, Unknown),
		Group:                 StringOr(id.Group, Unknown),
		Location:              StringOr(id.Location, Unknown),
		ScopeName:             orUnknown(scope.Name),
		ScopeID:               scope.ID,
		SizeOrClass:           StringOr(id.SizeOrClass, Unknown),
		PowerOrState:          StringOr(id.State, Unknown),
		NetworkInterfaceCount: res.NetworkInterfaceCount(),
		Tags:                  TagMap(res.Tags()),
	}

	if rec.ScopeID == "" {
		if r, ok := res.(ScopeIDResolver); ok {
			if sid, ok := r.ScopeIDFromResource(); ok {
				rec.ScopeID = sid
			}
		}
	}
	rec.ScopeID = orUnknown(rec.ScopeID)

	if power != nil && *power != "" {
		rec.PowerOrState = *power
	}

	osInfo := UnknownOS()
	if os != nil {
		osInfo = *os
	}
	rec.OSType = orUnknown(osInfo.Type)
	rec.OSName = orUnknown(osInfo.Name)
	rec.OSVersion = orUnknown(osInfo.Version)
	rec.DiskSizeGB = osInfo.DiskSizeGB

	if rec.NetworkInterfaceCount < 0 {
		rec.NetworkInterfaceCount = 0
	}

	return rec
}

// NormalizeAll normalizes inputs in order. The result always has the same
// length as inputs.
func NormalizeAll(provider string, scope Scope, inputs []Input) []Record {
	records := make([]Record, 0, len(inputs))
	for _, in := range inputs {
		records = append(records, Normalize(provider, in.Resource, scope, in.OS, in.Power))
	}
	return records
}

// StringOr dereferences s, returning def when s is nil or empty.
func StringOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// TagMap copies tags into a map. The result is never nil.
func TagMap(tags []Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
