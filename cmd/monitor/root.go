/*
Copyright 2024 The Kubeflow authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"github.com/spf13/cobra"
)

// NewCommand builds the spark-monitor root command and its subcommands.
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "spark-monitor",
		Short: "Spark-on-Kubernetes application lifecycle monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(NewStartCommand())
	command.AddCommand(NewVersionCommand())
	return command
}
