// Package export serializes collected records to JSON, CSV, text and YAML,
// filters them with jq expressions and writes Prometheus textfiles.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// Formats accepted by Save.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
	FormatYAML = "yaml"
)

// Document is the serialized form of one run.
type Document struct {
	GeneratedAt time.Time     `json:"generatedAt" yaml:"generatedAt"`
	TotalCount  int           `json:"totalCount" yaml:"totalCount"`
	Items       []core.Record `json:"items" yaml:"items"`
	RunID       string        `json:"runId" yaml:"runId"`
	Summary     core.Summary  `json:"summary" yaml:"summary"`
	// Provider labels the text report heading.
	Provider string `json:"-" yaml:"-"`
}

// NewDocument builds a Document with a fresh run id. A nil records slice is
// stored as empty.
func NewDocument(provider string, records []core.Record, summary core.Summary, now time.Time) Document {
	if records == nil {
		records = []core.Record{}
	}
	return Document{
		GeneratedAt: now,
		TotalCount:  len(records),
		Items:       records,
		RunID:       uuid.NewString(),
		Summary:     summary,
		Provider:    provider,
	}
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteYAML writes doc as YAML.
func WriteYAML(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// CSVHeader is the header row written by WriteCSV.
var CSVHeader = []string{
	"provider", "id", "name", "group", "location", "scopeName", "scopeId",
	"sizeOrClass", "powerOrState", "osType", "osName", "osVersion",
	"diskSizeGB", "networkInterfaceCount", "tags",
}

// WriteCSV writes one row per record.
func WriteCSV(w io.Writer, records []core.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Provider, r.ID, r.Name, r.Group, r.Location, r.ScopeName, r.ScopeID,
			r.SizeOrClass, r.PowerOrState, r.OSType, r.OSName, r.OSVersion,
			r.DiskSizeGB.String(), strconv.Itoa(r.NetworkInterfaceCount),
			FormatTags(r.Tags, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatTags renders tags as key=value pairs sorted by key.
func FormatTags(tags map[string]string, sep string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, sep)
}

// WriteText writes a plain text report: the distributions followed by one
// block per record, sorted by scope, group and name.
func WriteText(w io.Writer, doc Document, showTags bool) error {
	var b strings.Builder
	title := "Inventory Report"
	if doc.Provider != "" {
		title = doc.Provider + " " + title
	}
	rule := strings.Repeat("=", 50)

	fmt.Fprintf(&b, "%s\n%s\n", title, rule)
	fmt.Fprintf(&b, "Generated: %s\n", doc.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Run ID: %s\n", doc.RunID)
	fmt.Fprintf(&b, "Total: %d\n\n", doc.TotalCount)

	fmt.Fprintf(&b, "SUMMARY\n%s\n", strings.Repeat("-", 20))
	writeDistribution(&b, "OS Type Distribution", doc.Summary.ByOSType)
	writeDistribution(&b, "State Distribution", doc.Summary.ByState)
	writeDistribution(&b, "Location Distribution", doc.Summary.ByLocation)

	fmt.Fprintf(&b, "%s\nDETAILED INFORMATION\n%s\n\n", rule, rule)
	for _, r := range core.SortRecords(doc.Items) {
		fmt.Fprintf(&b, "Name: %s\n", r.Name)
		fmt.Fprintf(&b, "Group: %s\n", r.Group)
		fmt.Fprintf(&b, "Location: %s\n", r.Location)
		fmt.Fprintf(&b, "Scope: %s\n", r.ScopeName)
		fmt.Fprintf(&b, "Scope ID: %s\n", r.ScopeID)
		fmt.Fprintf(&b, "Size: %s\n", r.SizeOrClass)
		fmt.Fprintf(&b, "State: %s\n", r.PowerOrState)
		fmt.Fprintf(&b, "OS Type: %s\n", r.OSType)
		fmt.Fprintf(&b, "OS Name: %s\n", r.OSName)
		fmt.Fprintf(&b, "OS Version: %s\n", r.OSVersion)
		fmt.Fprintf(&b, "OS Disk Size (GB): %s\n", r.DiskSizeGB)
		fmt.Fprintf(&b, "Network Interfaces: %d\n", r.NetworkInterfaceCount)
		if showTags && len(r.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", FormatTags(r.Tags, ", "))
		}
		fmt.Fprintf(&b, "%s\n\n", strings.Repeat("-", 40))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeDistribution(b *strings.Builder, title string, dist map[string]int) {
	fmt.Fprintf(b, "%s:\n", title)
	for _, bucket := range core.Buckets(dist) {
		fmt.Fprintf(b, "  %s: %d\n", bucket.Label, bucket.Count)
	}
	b.WriteString("\n")
}

// SaveTarget is a resolved save request.
type SaveTarget struct {
	Format string
	Path   string
}

// SelectSave picks one save target in the priority json, csv, text, yaml.
// It returns false when no path is set.
func SelectSave(jsonPath, csvPath, textPath, yamlPath string) (SaveTarget, bool) {
	for _, t := range []SaveTarget{
		{FormatJSON, jsonPath},
		{FormatCSV, csvPath},
		{FormatText, textPath},
		{FormatYAML, yamlPath},
	} {
		if t.Path != "" {
			return t, true
		}
	}
	return SaveTarget{}, false
}

// DefaultFilename returns the auto-save name "<provider>_<timestamp>.json".
func DefaultFilename(provider string, now time.Time) string {
	return fmt.Sprintf("%s_%s.json", provider, now.Format("20060102_150405"))
}

// Write renders doc in the target format to w.
func Write(w io.Writer, format string, doc Document, showTags bool) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, doc)
	case FormatCSV:
		return WriteCSV(w, doc.Items)
	case FormatText:
		return WriteText(w, doc, showTags)
	case FormatYAML:
		return WriteYAML(w, doc)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// Save writes doc to t.Path.
func Save(t SaveTarget, doc Document, showTags bool) (err error) {
	// #nosec G304 - the path is chosen by the user on the command line
	f, err := os.Create(t.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", t.Path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := Write(f, t.Format, doc, showTags); err != nil {
		return fmt.Errorf("write %s: %w", t.Path, err)
	}
	return nil
}
