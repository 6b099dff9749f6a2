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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	pt "github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"gitlab.com/davidxarnold/census/pkg/cloud"
)

const defaultMaxConcurrent = 4

// checkResult is the outcome of probing one source.
type checkResult struct {
	Source string        `json:"source"`
	OK     bool          `json:"ok"`
	Scopes int           `json:"scopes"`
	Error  string        `json:"error,omitempty"`
	Took   time.Duration `json:"took"`
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var (
		timeout       time.Duration
		maxConcurrent int
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check credentials and access for every inventory source",
		Long: `Create every registered inventory source and enumerate its scopes. This
checks that the Azure CLI is installed and logged in, that Azure, AWS and GCP
credentials resolve, and that scopes are visible.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			opts := cloud.Options{
				Region:   viper.GetString("region"),
				Projects: viper.GetStringSlice("gce-projects"),
			}
			results := runChecks(cmd.Context(), cloud.RegisteredSources(), cloud.LookupSource, opts, timeout, maxConcurrent)
			if s.Output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			renderChecks(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout per source")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", defaultMaxConcurrent, "Maximum sources checked at once")
	return cmd
}

// runChecks probes each named source concurrently. Results keep the order of
// names. A failing source never cancels the others.
func runChecks(
	ctx context.Context,
	names []string,
	lookup func(string) cloud.SourceFactory,
	opts cloud.Options,
	timeout time.Duration,
	maxConcurrent int,
) []checkResult {
	results := make([]checkResult, len(names))

	g, gCtx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = checkSource(gCtx, name, lookup(name), opts, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkSource(ctx context.Context, name string, factory cloud.SourceFactory, opts cloud.Options, timeout time.Duration) checkResult {
	res := checkResult{Source: name}
	start := time.Now()

	if factory == nil {
		res.Error = "not registered"
		return finish(res, start)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	src, err := factory(ctx, opts)
	if err != nil {
		res.Error = err.Error()
		return finish(res, start)
	}
	defer func() { _ = cloud.CloseSource(src) }()
	scopes, err := src.Scopes(ctx)
	if err != nil {
		res.Error = err.Error()
		return finish(res, start)
	}
	res.OK = true
	res.Scopes = len(scopes)
	log.WithField("provider", name).Debugf("%d scopes visible", len(scopes))
	return finish(res, start)
}

func finish(res checkResult, start time.Time) checkResult {
	res.Took = time.Since(start)
	return res
}

func renderChecks(w io.Writer, results []checkResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	t := pt.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(pt.Row{"Source", "Status", "Scopes", "Took", "Error"})
	for _, r := range results {
		status := ok("OK")
		if !r.OK {
			status = bad("FAIL")
		}
		t.AppendRow(pt.Row{r.Source, status, r.Scopes, r.Took.Round(time.Millisecond), r.Error})
	}
	t.Render()

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	fmt.Fprintf(w, "%d of %d sources usable\n", len(results)-failed, len(results))
}
