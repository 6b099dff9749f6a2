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

	log "github.com/sirupsen/logrus"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/export"
	"gitlab.com/davidxarnold/census/pkg/inventory"
)

// now is replaced in tests.
var now = time.Now

// inventoryRequest is what a listing subcommand asks runInventory for.
type inventoryRequest struct {
	// Source is the registered source name.
	Source string
	// Label names the provider in reports and file names.
	Label   string
	Options cloud.Options
	ScopeID string
	Group   string
}

// runInventory creates the source registered under req.Source and runs it.
func runInventory(ctx context.Context, w io.Writer, req inventoryRequest) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	factory := cloud.LookupSource(req.Source)
	if factory == nil {
		return fmt.Errorf("no inventory source registered as %q", req.Source)
	}
	src, err := factory(ctx, req.Options)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Label, err)
	}
	defer func() {
		if err := cloud.CloseSource(src); err != nil {
			log.WithField("provider", req.Label).Warnf("could not close client: %v", err)
		}
	}()

	var cache *cloud.Cache
	if s.Cache && s.Detailed {
		cache = cloud.NewCache(s.CacheTTL, true)
		defer cache.Flush()
	}

	return collectAndEmit(ctx, w, cloud.WithCache(src, cache), req, s)
}

// collectAndEmit runs the collector over src and writes every requested
// output: the rendered report or query result, the saved file and the
// metrics file. It fails after emitting when the failure budget is exceeded.
func collectAndEmit(ctx context.Context, w io.Writer, src cloud.Source, req inventoryRequest, s settings) error {
	logger := log.WithField("provider", req.Label)

	result, err := inventory.Collect(ctx, src, inventory.Options{
		Detailed:   s.Detailed,
		ScopeID:    req.ScopeID,
		Group:      req.Group,
		TagMatcher: s.tagMatcher(),
	})
	if err != nil {
		return err
	}
	if result.ScopeFilterUnmatched {
		fmt.Fprintf(w, "Scope %s not found or not accessible.\n", req.ScopeID)
		return nil
	}

	doc := export.NewDocument(req.Label, result.Records, result.Summary, now())
	logger.WithField("run", doc.RunID).Infof("collected %d resources from %d scopes", doc.TotalCount, len(result.Scopes))

	if s.Query != "" {
		if err := export.Query(w, s.Query, doc); err != nil {
			return err
		}
	} else if err := render(w, s, doc); err != nil {
		return err
	}

	target, ok := export.SelectSave(s.SaveJSON, s.SaveCSV, s.SaveText, s.SaveYAML)
	if !ok && s.Detailed {
		target, ok = export.SaveTarget{Format: export.FormatJSON, Path: export.DefaultFilename(req.Label, doc.GeneratedAt)}, true
	}
	if ok {
		if err := export.Save(target, doc, s.ShowTags); err != nil {
			return err
		}
		logger.Infof("results saved to %s", target.Path)
	}

	if s.MetricsFile != "" {
		if err := export.WriteMetricsFile(s.MetricsFile, req.Label, doc.Summary); err != nil {
			return err
		}
		logger.Debugf("metrics written to %s", s.MetricsFile)
	}

	if n := result.FailureCount(); n > 0 {
		logger.Warnf("%d lookups failed, output is incomplete", n)
	}
	if inventory.ExceedsFailureBudget(result, s.MaxFailures) {
		return fmt.Errorf("%d detail lookups failed, more than the allowed %d",
			result.FailureCount(inventory.DetailOS, inventory.DetailPower), s.MaxFailures)
	}
	return nil
}
