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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/davidxarnold/census/pkg/cloud"
)

const (
	backendSDK = "sdk"
	backendCLI = "cli"
)

// NewAzureCmd creates the azure command group.
func NewAzureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "azure",
		Short: "Inventory Azure resources",
	}
	cmd.AddCommand(newAzureVMsCmd())
	return cmd
}

func newAzureVMsCmd() *cobra.Command {
	var (
		subscription  string
		resourceGroup string
	)

	cmd := &cobra.Command{
		Use:   "vms",
		Short: "List Azure VMs and their operating systems",
		Long: `List the virtual machines of every accessible subscription.

With --detailed each VM is described individually to infer its OS type, name,
version and OS disk size, and its power state is read from the instance view.
Without it, OS fields are Unknown.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := azureBackendSource()
			if err != nil {
				return err
			}
			return runInventory(cmd.Context(), cmd.OutOrStdout(), inventoryRequest{
				Source:  source,
				Label:   "azure",
				ScopeID: subscription,
				Group:   resourceGroup,
			})
		},
	}

	cmd.Flags().String("backend", backendSDK, "Azure access backend. One of: sdk|cli")
	cmd.Flags().StringVar(&subscription, "subscription", "", "Only list VMs of this subscription id")
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "Only list VMs of this resource group")
	_ = viper.BindPFlag("azure-backend", cmd.Flags().Lookup("backend"))

	return cmd
}

// azureBackendSource resolves the azure-backend key, which the --backend flag,
// the AZURE_BACKEND environment variable and the config file all feed.
func azureBackendSource() (string, error) {
	return azureSourceName(viper.GetString("azure-backend"))
}

// azureSourceName maps a --backend value to the registered source.
func azureSourceName(backend string) (string, error) {
	switch strings.ToLower(backend) {
	case "", backendSDK:
		return cloud.SourceAzure, nil
	case backendCLI:
		return cloud.SourceAzureCLI, nil
	default:
		return "", fmt.Errorf("unknown azure backend %q, want sdk or cli", backend)
	}
}
