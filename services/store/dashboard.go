// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Dashboard reads
// =============================================================================

// GetCompositeDashboard implements Store. Dashboard reads go through
// v_dashboard_composite, never through raw report rows: the view picks
// config-audit fields from the latest CONFIG_AUDIT report and group
// metrics from the latest DOMAIN_ANALYSIS report so uploads arriving
// in either order cannot clobber each other.
func (p *Postgres) GetCompositeDashboard(ctx context.Context, domain string) ([]CompositeDomainView, error) {
	views := make([]CompositeDomainView, 0)
	err := p.db.SelectContext(ctx, &views, `
		SELECT * FROM v_dashboard_composite
		WHERE ($1 = '' OR domain = $1)
		ORDER BY domain`, domain)
	if err != nil {
		return nil, mapError(err)
	}
	return views, nil
}

const dashboardKPIsSQL = `
SELECT
	(SELECT COUNT(DISTINCT domain) FROM reports WHERE ($1 = '' OR domain = $1))      AS domains,
	(SELECT COUNT(*) FROM reports WHERE ($1 = '' OR domain = $1))                    AS reports,
	(SELECT COUNT(*) FROM findings f JOIN reports r ON r.id = f.report_id
		WHERE f.status = 'new' AND ($1 = '' OR r.domain = $1))                       AS open_findings,
	(SELECT COUNT(*) FROM accepted_risks
		WHERE expires_at IS NULL OR expires_at > NOW())                              AS accepted_risks,
	(SELECT COUNT(*) FROM findings f JOIN reports r ON r.id = f.report_id
		WHERE f.severity = 'high' AND f.status = 'new'
		  AND ($1 = '' OR r.domain = $1))                                            AS high_severity,
	(SELECT AVG(global_score) FROM v_dashboard_composite
		WHERE ($1 = '' OR domain = $1))                                              AS avg_global_score,
	(SELECT COUNT(*) FROM monitored_groups WHERE ($1 = '' OR domain = $1))           AS monitored_groups,
	(SELECT COUNT(*) FROM accepted_group_members WHERE ($1 = '' OR domain = $1))     AS accepted_members,
	(SELECT COUNT(DISTINCT domain) FROM global_risk_scores g
		WHERE g.trend_direction = 'degrading' AND ($1 = '' OR g.domain = $1)
		  AND g.assessment_date::date = NOW()::date)                                 AS degrading_domains,
	(SELECT COUNT(DISTINCT domain) FROM domain_risk_assessments
		WHERE assessment_date::date = (NOW() - interval '1 day')::date
		  AND ($1 = '' OR domain = $1))                                              AS assessed_yesterday`

// GetDashboardKPIs implements Store. KPIs aggregate live over the base
// tables and the composite view; the reports_kpis rollup table is
// refreshed separately (RefreshReportsKPIs) for export consumers.
func (p *Postgres) GetDashboardKPIs(ctx context.Context, domain string) (*DashboardKPIs, error) {
	var kpis DashboardKPIs
	if err := p.db.GetContext(ctx, &kpis, dashboardKPIsSQL, domain); err != nil {
		return nil, mapError(err)
	}
	return &kpis, nil
}

// RefreshReportsKPIs recomputes the reports_kpis rollup row for a
// domain. The risk integration service calls this after each completed
// recomputation so export consumers read cheap, pre-aggregated rows.
func (p *Postgres) RefreshReportsKPIs(ctx context.Context, domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidInput)
	}
	kpis, err := p.GetDashboardKPIs(ctx, domain)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO reports_kpis (
			domain, reports, open_findings, high_severity,
			monitored_groups, accepted_members, avg_global_score, refreshed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (domain) DO UPDATE SET
			reports          = EXCLUDED.reports,
			open_findings    = EXCLUDED.open_findings,
			high_severity    = EXCLUDED.high_severity,
			monitored_groups = EXCLUDED.monitored_groups,
			accepted_members = EXCLUDED.accepted_members,
			avg_global_score = EXCLUDED.avg_global_score,
			refreshed_at     = EXCLUDED.refreshed_at`,
		domain, kpis.Reports, kpis.OpenFindings, kpis.HighSeverity,
		kpis.MonitoredGroups, kpis.AcceptedMembers, kpis.AvgGlobalScore,
		time.Now().UTC())
	return mapError(err)
}

// =============================================================================
// Settings
// =============================================================================

// GetSetting implements Store.
func (p *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.GetContext(ctx, &value,
		`SELECT value FROM settings WHERE key = $1`, key)
	if err != nil {
		return "", mapError(err)
	}
	return value, nil
}

// SetSetting implements Store.
func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty settings key", ErrInvalidInput)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	return mapError(err)
}

// GetSettings implements Store.
func (p *Postgres) GetSettings(ctx context.Context) (map[string]string, error) {
	rows := make([]struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}, 0)
	if err := p.db.SelectContext(ctx, &rows, `SELECT key, value FROM settings`); err != nil {
		return nil, mapError(err)
	}
	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Key] = row.Value
	}
	return settings, nil
}

// =============================================================================
// Agents
// =============================================================================

const upsertAgentSQL = `
INSERT INTO agents (id, name, domain, hostname, last_seen, version)
VALUES (:id, :name, :domain, :hostname, :last_seen, :version)
ON CONFLICT (name, domain) DO UPDATE SET
	hostname  = EXCLUDED.hostname,
	last_seen = EXCLUDED.last_seen,
	version   = EXCLUDED.version`

// UpsertAgent implements Store. Heartbeats upsert on (name, domain).
func (p *Postgres) UpsertAgent(ctx context.Context, agent *Agent) error {
	if agent == nil || agent.Name == "" || agent.Domain == "" {
		return fmt.Errorf("%w: incomplete agent", ErrInvalidInput)
	}
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	if agent.LastSeen.IsZero() {
		agent.LastSeen = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, upsertAgentSQL, agent)
	return mapError(err)
}

// ListAgents implements Store.
func (p *Postgres) ListAgents(ctx context.Context) ([]Agent, error) {
	agents := make([]Agent, 0)
	err := p.db.SelectContext(ctx, &agents,
		`SELECT * FROM agents ORDER BY domain, name`)
	if err != nil {
		return nil, mapError(err)
	}
	return agents, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// PruneReports implements Store. Findings and memberships follow their
// report by ON DELETE CASCADE.
func (p *Postgres) PruneReports(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidInput)
	}
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM reports
		WHERE upload_date < NOW() - ($1 || ' days')::interval`, retentionDays)
	if err != nil {
		return 0, mapError(err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return removed, nil
}
