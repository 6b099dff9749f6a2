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

// NewAWSCmd creates the aws command group.
func NewAWSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aws",
		Short: "Inventory AWS resources",
	}
	cmd.PersistentFlags().String("region", "", "AWS region (default from the shared AWS config)")
	_ = viper.BindPFlag("region", cmd.PersistentFlags().Lookup("region"))

	cmd.AddCommand(newEC2Cmd(), NewMSKCmd())
	return cmd
}

func newEC2Cmd() *cobra.Command {
	var vpc string

	cmd := &cobra.Command{
		Use:   "ec2",
		Short: "List EC2 instances of the current account and region",
		Long: `List the EC2 instances visible to the current credentials. The account and
region form the single scope. With --detailed the AMI and root volume are
described to infer the OS.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(cmd.Context(), cmd.OutOrStdout(), inventoryRequest{
				Source:  cloud.SourceEC2,
				Label:   "ec2",
				Options: cloud.Options{Region: viper.GetString("region")},
				Group:   vpc,
			})
		},
	}
	cmd.Flags().StringVar(&vpc, "vpc", "", "Only list instances of this VPC")
	return cmd
}
