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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	pt "github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/export"
)

const (
	ctlC = "<C-c>"

	minBoxWidth     = 80
	maxBoxWidth     = 240
	defaultBoxWidth = 120
)

var (
	headingColor = color.New(color.FgHiMagenta, color.Bold)
	labelColor   = color.New(color.FgCyan)
)

// getTerminalWidth returns the width of the terminal on stdout, clamped to
// [minBoxWidth, maxBoxWidth].
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = defaultBoxWidth
	}
	if width < minBoxWidth {
		return minBoxWidth
	}
	if width > maxBoxWidth {
		return maxBoxWidth
	}
	return width
}

// render writes the inventory document in the requested output format.
func render(w io.Writer, s settings, doc export.Document) error {
	switch s.Output {
	case outputJSON:
		return export.WriteJSON(w, doc)
	case outputDash:
		return dash(doc)
	case outputPretty:
		printSummary(w, doc.Provider, doc.Summary)
		if !s.SummaryOnly {
			recordTable(w, doc.Items, s.ShowTags, true)
		}
	default:
		printSummary(w, doc.Provider, doc.Summary)
		if !s.SummaryOnly {
			recordTable(w, doc.Items, s.ShowTags, false)
		}
	}
	return nil
}

// printSummary prints the total and the three distributions, each sorted by
// label.
func printSummary(w io.Writer, provider string, s core.Summary) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	headingColor.Fprintf(w, "%s SUMMARY\n", strings.ToUpper(provider))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total resources found: %d\n", s.Total)
	if s.Total == 0 {
		return
	}

	for _, d := range []struct {
		title string
		dist  map[string]int
	}{
		{"OS Type Distribution", s.ByOSType},
		{"State Distribution", s.ByState},
		{"Location Distribution", s.ByLocation},
	} {
		fmt.Fprintln(w)
		labelColor.Fprintf(w, "%s:\n", d.title)
		for _, b := range core.Buckets(d.dist) {
			fmt.Fprintf(w, "  %s: %d\n", b.Label, b.Count)
		}
	}
	fmt.Fprintln(w)
}

var recordHeader = pt.Row{
	"Name", "Group", "Location", "Scope", "Size", "State", "OS Type", "OS Name", "OS Disk (GB)", "NICs",
}

// recordTable prints one row per record, sorted by scope, group and name.
func recordTable(w io.Writer, records []core.Record, showTags, pretty bool) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No resources found.")
		return
	}

	t := pt.NewWriter()
	t.SetOutputMirror(w)
	if pretty {
		t.SetStyle(pt.StyleColoredBright)
	} else {
		t.Style().Options.DrawBorder = false
		t.Style().Options.SeparateColumns = false
		t.Style().Options.SeparateFooter = false
		t.Style().Options.SeparateHeader = false
		t.Style().Options.SeparateRows = false
	}
	t.SetAllowedRowLength(getTerminalWidth())

	header := append(pt.Row{}, recordHeader...)
	if showTags {
		header = append(header, "Tags")
	}
	t.AppendHeader(header)

	for _, r := range core.SortRecords(records) {
		row := pt.Row{
			r.Name, r.Group, r.Location, r.ScopeName, r.SizeOrClass, r.PowerOrState,
			r.OSType, r.OSName, r.DiskSizeGB.String(), r.NetworkInterfaceCount,
		}
		if showTags {
			row = append(row, export.FormatTags(r.Tags, ", "))
		}
		t.AppendRow(row)
	}

	t.AppendFooter(pt.Row{"Total", len(records)})
	t.Render()
}

// kvTable prints a two-column key/value table.
func kvTable(w io.Writer, title string, rows [][2]string) {
	t := pt.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.Style().Options.SeparateRows = false
	for _, r := range rows {
		t.AppendRow(pt.Row{r[0], r[1]})
	}
	t.Render()
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// distributionBars returns the labels and values of a distribution, sorted
// by label, for a termui bar chart.
func distributionBars(dist map[string]int) ([]string, []float64) {
	buckets := core.Buckets(dist)
	labels := make([]string, 0, len(buckets))
	data := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		labels = append(labels, b.Label)
		data = append(data, float64(b.Count))
	}
	return labels, data
}

func newDistributionChart(title string, dist map[string]int) *widgets.BarChart {
	bc := widgets.NewBarChart()
	bc.Title = title
	bc.Labels, bc.Data = distributionBars(dist)
	bc.BarWidth = 12
	bc.BarGap = 2
	bc.BarColors = []ui.Color{ui.ColorGreen, ui.ColorCyan, ui.ColorYellow, ui.ColorMagenta}
	bc.LabelStyles = []ui.Style{ui.NewStyle(ui.ColorBlue)}
	bc.NumStyles = []ui.Style{ui.NewStyle(ui.ColorBlack)}
	return bc
}

// dash shows the three distributions as bar charts until q or Ctrl-C.
func dash(doc export.Document) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer ui.Close()

	width, height := ui.TerminalDimensions()
	third := height / 3

	osChart := newDistributionChart(fmt.Sprintf("%s by OS type (%d total)", doc.Provider, doc.TotalCount), doc.Summary.ByOSType)
	osChart.SetRect(0, 0, width, third)
	stateChart := newDistributionChart("By state", doc.Summary.ByState)
	stateChart.SetRect(0, third, width, 2*third)
	locChart := newDistributionChart("By location", doc.Summary.ByLocation)
	locChart.SetRect(0, 2*third, width, height)

	ui.Render(osChart, stateChart, locChart)

	uiEvents := ui.PollEvents()
	for {
		e := <-uiEvents
		switch e.ID {
		case "q", ctlC:
			return nil
		}
	}
}
