// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	retentionDays int

	rootCmd = &cobra.Command{
		Use:   "domainwatch",
		Short: "A service that unifies directory security reports into one risk posture",
		Long: `Domainwatch ingests configuration-audit, group-membership and
certificate-infrastructure reports, normalizes them into a single
store and maintains per-domain and global risk scores.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE:  runMigrate, // Defined in cmd_admin.go
	}

	migrateStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE:  runMigrateStatus, // Defined in cmd_admin.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Probe the database and print the health report",
		RunE:  runHealth, // Defined in cmd_admin.go
	}

	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete reports older than the retention window",
		RunE:  runPrune, // Defined in cmd_admin.go
	}
)

func init() {
	pruneCmd.Flags().IntVar(&retentionDays, "retention-days", 365,
		"Reports older than this many days are removed")

	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, healthCmd, pruneCmd)
}
