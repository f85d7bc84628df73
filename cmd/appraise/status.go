// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/appraise-dev/appraise/internal/store"
)

// statusTimeout bounds the database connectivity check.
const statusTimeout = 10 * time.Second

// newStatusCmd creates the status subcommand: a connectivity and schema
// check against the configured database.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check database connectivity and schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL := databaseURLFrom(cmd)
			if databaseURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("database URL is required (flag, config file, or DATABASE_URL)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			pool, err := store.Connect(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			cmd.Println("database: reachable")

			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return err
			}
			defer func() {
				_ = m.Close() //nolint:errcheck // best effort cleanup
			}()

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if version == 0 {
				cmd.Println("schema: no migrations applied")
				return nil
			}
			cmd.Printf("schema: version %d dirty: %v\n", version, dirty)
			return nil
		},
	}

	cmd.Flags().String("database.url", "", "PostgreSQL connection string")

	return cmd
}
