// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/services/store"
	"github.com/kodiaksec/domainwatch/services/store/health"
	"github.com/kodiaksec/domainwatch/services/store/migrate"
	"github.com/kodiaksec/domainwatch/services/store/migrations"
)

// openStore connects using DATABASE_URL. Caller closes.
func openStore(ctx context.Context) (*store.Postgres, *logging.Logger, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "domainwatch"})
	pg, err := store.Open(ctx, url, logger)
	if err != nil {
		return nil, nil, err
	}
	return pg, logger, nil
}

func adminContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := adminContext()
	defer stop()

	pg, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	result, err := migrate.New(pg.DB(), migrations.Files, logger).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("discovered %d, applied %d, skipped %d\n",
		result.Discovered, len(result.Applied), result.Skipped)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := adminContext()
	defer stop()

	pg, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	applied, pending, err := migrate.New(pg.DB(), migrations.Files, logger).Status(ctx)
	if err != nil {
		return err
	}
	for _, m := range applied {
		fmt.Printf("applied  %3d  %-40s  %s\n", m.Version, m.Filename, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Printf("pending  %3d  %s\n", m.Version, m.Filename)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, stop := adminContext()
	defer stop()

	pg, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	report := health.New(pg.DB(), logger).Run(ctx)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if report.Status == health.StatusUnhealthy {
		return errors.New("database is unhealthy")
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx, stop := adminContext()
	defer stop()

	pg, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	removed, err := pg.PruneReports(ctx, retentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d reports older than %d days\n", removed, retentionDays)
	return nil
}
