// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the appraise CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appraise",
		Short: "Appraise - authentication service for the assessment dashboard",
		Long: `Appraise is the authentication service backing the assessment
dashboard: session issuance and validation, two-phase email registration,
and credential storage.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
