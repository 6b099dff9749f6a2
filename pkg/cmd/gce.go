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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/davidxarnold/census/pkg/cloud"
)

// NewGCECmd creates the gce command group.
func NewGCECmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gce",
		Short: "Inventory Google Compute Engine resources",
	}
	cmd.AddCommand(newGCEInstancesCmd())
	return cmd
}

func newGCEInstancesCmd() *cobra.Command {
	var nodePool string

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List GCE instances of the configured projects",
		Long: `List the instances of every project given with --project or configured
under gce-projects. Instances are grouped by their GKE node pool when they
belong to one.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(cmd.Context(), cmd.OutOrStdout(), inventoryRequest{
				Source:  cloud.SourceGCE,
				Label:   "gce",
				Options: cloud.Options{Projects: viper.GetStringSlice("gce-projects")},
				Group:   nodePool,
			})
		},
	}

	cmd.Flags().StringSlice("project", nil, "GCP project to inventory, repeatable")
	cmd.Flags().StringVar(&nodePool, "node-pool", "", "Only list instances of this node pool")
	_ = viper.BindPFlag("gce-projects", cmd.Flags().Lookup("project"))

	return cmd
}
