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
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/davidxarnold/census/pkg/util"
	v "gitlab.com/davidxarnold/census/version"
)

var cfgFile string

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			log.Fatalln(err)
		}

		// Search config in home directory with name ".census" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".census")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugln("Using config file:", viper.ConfigFileUsed())
	}
}

// NewCensusCmd provides the root cobra command.
func NewCensusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "census",
		Short: "Inventory your cloud compute and Kafka resources.",
		Long: `census lists Azure VMs, EC2 and GCE instances and MSK clusters, normalizes
them into one record shape and summarizes them by OS type, state and location.
MSK clusters can additionally be inspected for topics, partitions and
CloudWatch metrics.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			setupColor()
			return util.SetupLogger()
		},
	}

	cmd.Version = v.Version

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.census.yaml)")
	pf.StringP("output", "o", outputTable, "Output format. One of: table|pretty|json|dash")
	pf.Bool("detailed", false, "Fetch per-resource OS and power details (slower)")
	pf.Bool("show-tags", false, "Include tags in table and text output")
	pf.Bool("summary-only", false, "Print only the summary, no per-resource table")
	pf.String("save-json", "", "Save results as JSON to `FILE`")
	pf.String("save-csv", "", "Save results as CSV to `FILE`")
	pf.String("save-text", "", "Save results as a text report to `FILE`")
	pf.String("save-yaml", "", "Save results as YAML to `FILE`")
	pf.String("query", "", "jq expression evaluated against the JSON document instead of rendering")
	pf.String("metrics-file", "", "Write Prometheus textfile gauges to `FILE`")
	pf.Int("max-failures", -1, "Exit non-zero when more detail lookups fail (-1 disables)")
	pf.Bool("cache", false, "Cache detail lookups on disk between runs")
	pf.Duration("cache-ttl", 10*time.Minute, "Lifetime of cached detail lookups")
	pf.String("os-tag-matcher", "loose", "Tag keys treated as OS name. One of: loose|strict")
	pf.String("log-level", "info", "Log level. One of: debug|info|warn|error")

	cobra.OnInitialize(initConfig)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindPFlags(pf)

	cmd.AddCommand(
		NewAzureCmd(),
		NewAWSCmd(),
		NewGCECmd(),
		NewDoctorCmd(),
	)

	return cmd
}

// setupColor disables coloured output when stdout is not a terminal.
func setupColor() {
	fd := os.Stdout.Fd()
	color.NoColor = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}
