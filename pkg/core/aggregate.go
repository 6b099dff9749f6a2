package core

import "sort"

// Summarize computes the OS type, state and location distributions of
// records in a single pass. It is pure: the same input always yields an equal
// Summary, and "Unknown" is counted like any other label.
func Summarize(records []Record) Summary {
	s := Summary{
		ByOSType:   make(map[string]int),
		ByState:    make(map[string]int),
		ByLocation: make(map[string]int),
		Total:      len(records),
	}

	for i := range records {
		r := &records[i]
		s.ByOSType[r.OSType]++
		s.ByState[r.PowerOrState]++
		s.ByLocation[r.Location]++
	}

	return s
}

// Buckets returns the entries of a distribution sorted by label, ascending.
func Buckets(dist map[string]int) []Bucket {
	out := make([]Bucket, 0, len(dist))
	for label, count := range dist {
		out = append(out, Bucket{Label: label, Count: count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Label < out[j].Label
	})
	return out
}

// SortRecords orders records by scope name, group and name, the order used
// by the detailed listings.
func SortRecords(records []Record) []Record {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ScopeName != b.ScopeName {
			return a.ScopeName < b.ScopeName
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Name < b.Name
	})
	return sorted
}
