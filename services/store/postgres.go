// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/kodiaksec/domainwatch/pkg/logging"
)

const pgUniqueViolation = "23505"

// Postgres implements Store on a PostgreSQL backend via sqlx over the
// pgx stdlib driver.
type Postgres struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// Open connects to the database at url and verifies connectivity.
func Open(ctx context.Context, url string, logger *logging.Logger) (*Postgres, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Postgres{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection. Used by tests (sqlmock) and
// by the migrator/health checker which share the server's pool.
func NewWithDB(db *sqlx.DB, logger *logging.Logger) *Postgres {
	if logger == nil {
		logger = logging.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// DB exposes the underlying pool for the migrator and health checker.
func (p *Postgres) DB() *sqlx.DB { return p.db }

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// withTx runs fn inside a transaction, rolling back on error.
func (p *Postgres) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// mapError translates driver errors into the store taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// =============================================================================
// Reports
// =============================================================================

// infrastructureFields names the CONFIG_AUDIT-only report columns, in
// the order they are checked by the data-separation enforcement.
var infrastructureFields = []string{
	"domain_functional_level", "forest_functional_level", "maturity_level",
	"dc_count", "user_count", "computer_count",
}

// enforceDataSeparation nulls fields the report's tool type must not
// populate and returns the names of the dropped fields. CONFIG_AUDIT
// keeps everything; DOMAIN_ANALYSIS keeps domain and domain_sid only.
func enforceDataSeparation(report *Report) []string {
	if report.ToolType == ToolConfigAudit {
		return nil
	}

	var dropped []string

	if report.DomainFunctionalLevel != nil {
		report.DomainFunctionalLevel = nil
		dropped = append(dropped, "domain_functional_level")
	}
	if report.ForestFunctionalLevel != nil {
		report.ForestFunctionalLevel = nil
		dropped = append(dropped, "forest_functional_level")
	}
	if report.MaturityLevel != nil {
		report.MaturityLevel = nil
		dropped = append(dropped, "maturity_level")
	}
	if report.DCCount != nil {
		report.DCCount = nil
		dropped = append(dropped, "dc_count")
	}
	if report.UserCount != nil {
		report.UserCount = nil
		dropped = append(dropped, "user_count")
	}
	if report.ComputerCount != nil {
		report.ComputerCount = nil
		dropped = append(dropped, "computer_count")
	}

	if report.StaleObjectsScore != nil {
		report.StaleObjectsScore = nil
		dropped = append(dropped, "stale_objects_score")
	}
	if report.PrivilegedAccountsScore != nil {
		report.PrivilegedAccountsScore = nil
		dropped = append(dropped, "privileged_accounts_score")
	}
	if report.TrustsScore != nil {
		report.TrustsScore = nil
		dropped = append(dropped, "trusts_score")
	}
	if report.AnomaliesScore != nil {
		report.AnomaliesScore = nil
		dropped = append(dropped, "anomalies_score")
	}
	if report.GlobalScore != nil {
		report.GlobalScore = nil
		dropped = append(dropped, "global_score")
	}

	if report.ToolType != ToolDomainAnalysis && report.DomainSID != nil {
		report.DomainSID = nil
		dropped = append(dropped, "domain_sid")
	}

	return dropped
}

const insertReportSQL = `
INSERT INTO reports (
	id, tool_type, domain, report_date, upload_date,
	domain_sid, domain_functional_level, forest_functional_level,
	maturity_level, dc_count, user_count, computer_count,
	stale_objects_score, privileged_accounts_score, trusts_score,
	anomalies_score, global_score, file_path, html_path, metadata
) VALUES (
	:id, :tool_type, :domain, :report_date, :upload_date,
	:domain_sid, :domain_functional_level, :forest_functional_level,
	:maturity_level, :dc_count, :user_count, :computer_count,
	:stale_objects_score, :privileged_accounts_score, :trusts_score,
	:anomalies_score, :global_score, :file_path, :html_path, :metadata
)
ON CONFLICT (id) DO NOTHING`

const insertFindingSQL = `
INSERT INTO findings (
	id, report_id, tool_type, category, name, score, severity,
	description, recommendation, status, metadata
) VALUES (
	:id, :report_id, :tool_type, :category, :name, :score, :severity,
	:description, :recommendation, :status, :metadata
)
ON CONFLICT (id) DO NOTHING`

const upsertRiskCatalogSQL = `
INSERT INTO risks (id, tool_type, category, name, description, recommendation, severity, last_seen)
VALUES (:id, :tool_type, :category, :name, :description, :recommendation, :severity, :last_seen)
ON CONFLICT (tool_type, category, name) DO UPDATE SET
	description    = EXCLUDED.description,
	recommendation = EXCLUDED.recommendation,
	severity       = EXCLUDED.severity,
	last_seen      = EXCLUDED.last_seen`

// SaveReport implements Store.
func (p *Postgres) SaveReport(ctx context.Context, report *Report) (uuid.UUID, error) {
	if report == nil {
		return uuid.Nil, fmt.Errorf("%w: nil report", ErrInvalidInput)
	}
	if !report.ToolType.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown tool type %q", ErrInvalidInput, report.ToolType)
	}
	if strings.TrimSpace(report.Domain) == "" {
		return uuid.Nil, fmt.Errorf("%w: empty domain", ErrInvalidInput)
	}

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.UploadDate.IsZero() {
		report.UploadDate = time.Now().UTC()
	}
	if report.ReportDate.IsZero() {
		report.ReportDate = report.UploadDate
	}

	if dropped := enforceDataSeparation(report); len(dropped) > 0 {
		p.logger.Error("data-separation violation, dropping fields",
			"report_id", report.ID,
			"tool_type", report.ToolType,
			"domain", report.Domain,
			"dropped_fields", strings.Join(dropped, ","),
		)
	}

	now := time.Now().UTC()
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertReportSQL, report); err != nil {
			return fmt.Errorf("insert report: %w", mapError(err))
		}

		for i := range report.Findings {
			finding := &report.Findings[i]
			if finding.ID == uuid.Nil {
				finding.ID = uuid.New()
			}
			finding.ReportID = report.ID
			if finding.ToolType == "" {
				finding.ToolType = report.ToolType
			}
			if finding.Severity == "" {
				finding.Severity = SeverityForScore(finding.Score)
			}
			if finding.Status == "" {
				finding.Status = StatusNew
			}
			if _, err := tx.NamedExecContext(ctx, insertFindingSQL, finding); err != nil {
				return fmt.Errorf("insert finding %s: %w", finding.Name, mapError(err))
			}

			catalog := map[string]any{
				"id":             uuid.New(),
				"tool_type":      finding.ToolType,
				"category":       finding.Category,
				"name":           finding.Name,
				"description":    finding.Description,
				"recommendation": finding.Recommendation,
				"severity":       finding.Severity,
				"last_seen":      now,
			}
			if _, err := tx.NamedExecContext(ctx, upsertRiskCatalogSQL, catalog); err != nil {
				return fmt.Errorf("upsert risk catalog: %w", mapError(err))
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return report.ID, nil
}

// UpdateReportHTML implements Store.
func (p *Postgres) UpdateReportHTML(ctx context.Context, id uuid.UUID, path string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE reports SET html_path = $1 WHERE id = $2`, path, id)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: report %s", ErrNotFound, id)
	}
	return nil
}

// FindReportByFileStem implements Store. The stem is the uploaded
// filename with its UUID-hex prefix and extension stripped; matching is
// against the stored XML file path.
func (p *Postgres) FindReportByFileStem(ctx context.Context, stem string) (*Report, error) {
	var report Report
	err := p.db.GetContext(ctx, &report, `
		SELECT * FROM reports
		WHERE tool_type = $1 AND file_path LIKE '%' || $2 || '.xml'
		ORDER BY upload_date DESC
		LIMIT 1`, ToolConfigAudit, stem)
	if err != nil {
		return nil, mapError(err)
	}
	return &report, nil
}

// GetReport implements Store.
func (p *Postgres) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	var report Report
	if err := p.db.GetContext(ctx, &report,
		`SELECT * FROM reports WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	if err := p.db.SelectContext(ctx, &report.Findings,
		`SELECT * FROM findings WHERE report_id = $1 ORDER BY category, name`, id); err != nil {
		return nil, mapError(err)
	}
	return &report, nil
}

// GetReportsSummary implements Store.
func (p *Postgres) GetReportsSummary(ctx context.Context, filter ReportFilter) ([]ReportSummary, error) {
	query := `
		SELECT r.id, r.tool_type, r.domain, r.report_date, r.upload_date,
		       r.global_score,
		       (SELECT COUNT(*) FROM findings f WHERE f.report_id = r.id) AS finding_count
		FROM reports r
		WHERE ($1 = '' OR r.domain = $1)
		  AND ($2 = '' OR r.tool_type = $2)
		ORDER BY r.upload_date DESC
		LIMIT $3`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	summaries := make([]ReportSummary, 0)
	err := p.db.SelectContext(ctx, &summaries, query,
		filter.Domain, string(filter.ToolType), limit)
	if err != nil {
		return nil, mapError(err)
	}
	return summaries, nil
}

// UpdateFindingStatus implements Store.
func (p *Postgres) UpdateFindingStatus(ctx context.Context, findingID uuid.UUID, status FindingStatus) error {
	switch status {
	case StatusNew, StatusAccepted, StatusResolved, StatusFalsePositive:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE findings SET status = $1 WHERE id = $2`, status, findingID)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: finding %s", ErrNotFound, findingID)
	}
	return nil
}
