/*
Copyright 2020 David Arnold
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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// Output formats understood by render.
const (
	outputTable  = "table"
	outputPretty = "pretty"
	outputJSON   = "json"
	outputDash   = "dash"
)

// settings is the resolved set of persistent flags for one run.
type settings struct {
	Output      string
	Detailed    bool
	ShowTags    bool
	SummaryOnly bool
	SaveJSON    string
	SaveCSV     string
	SaveText    string
	SaveYAML    string
	Query       string
	MetricsFile string
	MaxFailures int
	Cache       bool
	CacheTTL    time.Duration
	TagMatcher  string
}

// loadSettings reads settings from viper, which merges flags, environment
// and the config file.
func loadSettings() (settings, error) {
	s := settings{
		Output:      strings.ToLower(viper.GetString("output")),
		Detailed:    viper.GetBool("detailed"),
		ShowTags:    viper.GetBool("show-tags"),
		SummaryOnly: viper.GetBool("summary-only"),
		SaveJSON:    viper.GetString("save-json"),
		SaveCSV:     viper.GetString("save-csv"),
		SaveText:    viper.GetString("save-text"),
		SaveYAML:    viper.GetString("save-yaml"),
		Query:       viper.GetString("query"),
		MetricsFile: viper.GetString("metrics-file"),
		MaxFailures: viper.GetInt("max-failures"),
		Cache:       viper.GetBool("cache"),
		CacheTTL:    viper.GetDuration("cache-ttl"),
		TagMatcher:  viper.GetString("os-tag-matcher"),
	}
	if err := s.validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *settings) validate() error {
	if s.Output == "" {
		s.Output = outputTable
	}
	switch s.Output {
	case outputTable, outputPretty, outputJSON, outputDash:
	default:
		return fmt.Errorf("unknown output format %q, want one of table|pretty|json|dash", s.Output)
	}
	switch strings.ToLower(s.TagMatcher) {
	case "", "loose", "strict":
	default:
		return fmt.Errorf("unknown os tag matcher %q, want loose or strict", s.TagMatcher)
	}
	return nil
}

func (s settings) tagMatcher() core.TagMatcher {
	return core.TagMatcherByName(s.TagMatcher)
}
