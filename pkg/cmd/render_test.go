/*
Copyright 2025 David Arnold
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"gitlab.com/davidxarnold/census/pkg/core"
)

func TestGetTerminalWidth(t *testing.T) {
	width := getTerminalWidth()

	// Should return a value within bounds
	if width < minBoxWidth {
		t.Errorf("getTerminalWidth() = %d, want >= %d", width, minBoxWidth)
	}

	if width > maxBoxWidth {
		t.Errorf("getTerminalWidth() = %d, want <= %d", width, maxBoxWidth)
	}
}

func TestDistributionBars(t *testing.T) {
	labels, data := distributionBars(map[string]int{"Windows": 2, "Linux": 5, "Unknown": 1})

	wantLabels := []string{"Linux", "Unknown", "Windows"}
	wantData := []float64{5, 1, 2}
	if !reflect.DeepEqual(labels, wantLabels) {
		t.Errorf("distributionBars() labels = %v, want %v", labels, wantLabels)
	}
	if !reflect.DeepEqual(data, wantData) {
		t.Errorf("distributionBars() data = %v, want %v", data, wantData)
	}
}

func TestPrintSummary(t *testing.T) {
	records := []core.Record{
		{OSType: "Linux", PowerOrState: "VM running", Location: "westeurope"},
		{OSType: "Windows", PowerOrState: "VM running", Location: "westeurope"},
		{OSType: "Linux", PowerOrState: "VM deallocated", Location: "eastus"},
	}

	var buf bytes.Buffer
	printSummary(&buf, "azure", core.Summarize(records))
	out := buf.String()

	for _, want := range []string{
		"AZURE SUMMARY",
		"Total resources found: 3",
		"OS Type Distribution:\n  Linux: 2\n  Windows: 1\n",
		"State Distribution:\n  VM deallocated: 1\n  VM running: 2\n",
		"Location Distribution:\n  eastus: 1\n  westeurope: 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("printSummary() output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, "gce", core.Summarize(nil))
	out := buf.String()

	if !strings.Contains(out, "Total resources found: 0") {
		t.Errorf("printSummary() = %q, want a zero total", out)
	}
	if strings.Contains(out, "Distribution") {
		t.Errorf("printSummary() printed distributions for an empty run")
	}
}

func TestRecordTable(t *testing.T) {
	records := []core.Record{
		{Name: "b-vm", Group: "rg", ScopeName: "prod", DiskSizeGB: core.KnownDiskSize(64), Tags: map[string]string{"env": "prod"}},
		{Name: "a-vm", Group: "rg", ScopeName: "prod", DiskSizeGB: core.UnknownDiskSize, Tags: map[string]string{}},
	}

	tests := []struct {
		name     string
		showTags bool
		pretty   bool
		want     []string
		notWant  []string
	}{
		{"plain", false, false, []string{"a-vm", "b-vm", "64", "Unknown"}, []string{"env=prod"}},
		{"tags", true, false, []string{"env=prod"}, nil},
		{"pretty", false, true, []string{"a-vm"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			recordTable(&buf, records, tt.showTags, tt.pretty)
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("recordTable() missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("recordTable() unexpectedly contains %q", w)
				}
			}
			if strings.Index(out, "a-vm") > strings.Index(out, "b-vm") {
				t.Errorf("recordTable() rows not sorted by name")
			}
		})
	}
}

func TestRecordTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	recordTable(&buf, nil, false, false)
	if got := buf.String(); got != "No resources found.\n" {
		t.Errorf("recordTable(nil) = %q", got)
	}
}
