// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package health probes the database behind the store and rolls the
// probe results into a single status for the /health endpoint and the
// ops CLI.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/kodiaksec/domainwatch/pkg/logging"
)

// Status is the outcome of a single check or of the whole report.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusUnknown   Status = "UNKNOWN"
)

// severity orders statuses for the worst-of rollup.
func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnknown:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	}
	return 1
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// Check is one probe result.
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the rolled-up result of one Run.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// DefaultTimeout bounds one full health run.
const DefaultTimeout = 10 * time.Second

// slowQueryThreshold marks the sample query latency above which the
// database counts as degraded.
const slowQueryThreshold = 500 * time.Millisecond

// requiredTables must all exist for the store to function.
var requiredTables = []string{
	"reports",
	"findings",
	"risks",
	"accepted_risks",
	"monitored_groups",
	"group_memberships",
	"accepted_group_members",
	"group_risk_configs",
	"domain_risk_assessments",
	"group_risk_assessments",
	"global_risk_scores",
	"risk_calculation_history",
	"risk_configuration",
	"settings",
	"agents",
	"reports_kpis",
	"schema_migrations",
}

// requiredViews are created by migrations; a missing view degrades the
// dashboard but does not break ingestion.
var requiredViews = []string{
	"risk_dashboard_summary",
	"mv_grouped_findings",
	"mv_grouped_findings_summary",
	"mv_dashboard_summary",
	"v_dashboard_composite",
}

// requiredIndexes back the hot query paths.
var requiredIndexes = []string{
	"idx_reports_domain",
	"idx_findings_report_id",
	"uq_domain_assessment_day",
	"uq_global_score_day",
}

// Checker runs health probes against one database.
type Checker struct {
	db      *sqlx.DB
	logger  *logging.Logger
	timeout time.Duration
}

// New creates a Checker with the default timeout.
func New(db *sqlx.DB, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Checker{db: db, logger: logger, timeout: DefaultTimeout}
}

// SetTimeout overrides the full-run ceiling.
func (c *Checker) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Run executes all probes in parallel and rolls their statuses up with
// Worse. Connectivity failing short-circuits the rest: every other
// probe would fail for the same reason and only add noise.
func (c *Checker) Run(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := &Report{Status: StatusHealthy, CheckedAt: time.Now().UTC()}

	conn := c.checkConnectivity(ctx)
	report.Checks = append(report.Checks, conn)
	if conn.Status == StatusUnhealthy {
		report.Status = StatusUnhealthy
		return report
	}

	var mu sync.Mutex
	record := func(check Check) {
		mu.Lock()
		defer mu.Unlock()
		report.Checks = append(report.Checks, check)
		report.Status = Worse(report.Status, check.Status)
	}

	g, gctx := errgroup.WithContext(ctx)
	probes := []func(context.Context) Check{
		c.checkTables,
		c.checkViews,
		c.checkIndexes,
		c.checkQueryLatency,
		c.checkOrphanFindings,
	}
	for _, probe := range probes {
		probe := probe
		g.Go(func() error {
			record(probe(gctx))
			return nil
		})
	}
	_ = g.Wait()

	if report.Status != StatusHealthy {
		c.logger.Warn("health check not healthy", "status", string(report.Status))
	}
	return report
}

func (c *Checker) checkConnectivity(ctx context.Context) Check {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return Check{
			Name:     "connectivity",
			Status:   StatusUnhealthy,
			Message:  fmt.Sprintf("ping failed: %v", err),
			Duration: time.Since(start),
		}
	}
	return Check{Name: "connectivity", Status: StatusHealthy, Duration: time.Since(start)}
}

func (c *Checker) checkTables(ctx context.Context) Check {
	start := time.Now()
	existing, err := c.namesIn(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	if err != nil {
		return Check{Name: "tables", Status: StatusUnknown,
			Message: err.Error(), Duration: time.Since(start)}
	}
	missing := missingFrom(requiredTables, existing)
	if len(missing) > 0 {
		return Check{Name: "tables", Status: StatusUnhealthy,
			Message:  fmt.Sprintf("missing tables: %v", missing),
			Duration: time.Since(start)}
	}
	return Check{Name: "tables", Status: StatusHealthy, Duration: time.Since(start)}
}

func (c *Checker) checkViews(ctx context.Context) Check {
	start := time.Now()
	existing, err := c.namesIn(ctx, `
		SELECT viewname FROM pg_views WHERE schemaname = 'public'`)
	if err != nil {
		return Check{Name: "views", Status: StatusUnknown,
			Message: err.Error(), Duration: time.Since(start)}
	}
	missing := missingFrom(requiredViews, existing)
	if len(missing) > 0 {
		return Check{Name: "views", Status: StatusDegraded,
			Message:  fmt.Sprintf("missing views: %v", missing),
			Duration: time.Since(start)}
	}
	return Check{Name: "views", Status: StatusHealthy, Duration: time.Since(start)}
}

func (c *Checker) checkIndexes(ctx context.Context) Check {
	start := time.Now()
	existing, err := c.namesIn(ctx, `
		SELECT indexname FROM pg_indexes WHERE schemaname = 'public'`)
	if err != nil {
		return Check{Name: "indexes", Status: StatusUnknown,
			Message: err.Error(), Duration: time.Since(start)}
	}
	missing := missingFrom(requiredIndexes, existing)
	if len(missing) > 0 {
		return Check{Name: "indexes", Status: StatusDegraded,
			Message:  fmt.Sprintf("missing indexes: %v", missing),
			Duration: time.Since(start)}
	}
	return Check{Name: "indexes", Status: StatusHealthy, Duration: time.Since(start)}
}

func (c *Checker) checkQueryLatency(ctx context.Context) Check {
	start := time.Now()
	var count int
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM reports`)
	elapsed := time.Since(start)
	if err != nil {
		return Check{Name: "query_latency", Status: StatusUnknown,
			Message: err.Error(), Duration: elapsed}
	}
	if elapsed > slowQueryThreshold {
		return Check{Name: "query_latency", Status: StatusDegraded,
			Message:  fmt.Sprintf("sample query took %s", elapsed.Round(time.Millisecond)),
			Duration: elapsed}
	}
	return Check{Name: "query_latency", Status: StatusHealthy, Duration: elapsed}
}

func (c *Checker) checkOrphanFindings(ctx context.Context) Check {
	start := time.Now()
	var orphans int
	err := c.db.GetContext(ctx, &orphans, `
		SELECT COUNT(*) FROM findings f
		LEFT JOIN reports r ON r.id = f.report_id
		WHERE r.id IS NULL`)
	if err != nil {
		return Check{Name: "orphan_findings", Status: StatusUnknown,
			Message: err.Error(), Duration: time.Since(start)}
	}
	if orphans > 0 {
		return Check{Name: "orphan_findings", Status: StatusDegraded,
			Message:  fmt.Sprintf("%d findings without a parent report", orphans),
			Duration: time.Since(start)}
	}
	return Check{Name: "orphan_findings", Status: StatusHealthy, Duration: time.Since(start)}
}

func (c *Checker) namesIn(ctx context.Context, query string) (map[string]struct{}, error) {
	names := make([]string, 0)
	if err := c.db.SelectContext(ctx, &names, query); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

func missingFrom(required []string, existing map[string]struct{}) []string {
	var missing []string
	for _, name := range required {
		if _, ok := existing[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
