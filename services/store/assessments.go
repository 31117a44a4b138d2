// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Domain risk assessments (day-keyed)
// =============================================================================

const upsertDomainAssessmentSQL = `
INSERT INTO domain_risk_assessments (
	id, domain, assessment_date,
	access_governance_score, privilege_escalation_score,
	compliance_posture_score, operational_risk_score, domain_group_score,
	total_groups, total_members, total_accepted
) VALUES (
	:id, :domain, :assessment_date,
	:access_governance_score, :privilege_escalation_score,
	:compliance_posture_score, :operational_risk_score, :domain_group_score,
	:total_groups, :total_members, :total_accepted
)
ON CONFLICT (domain, (assessment_date::date)) DO UPDATE SET
	assessment_date            = EXCLUDED.assessment_date,
	access_governance_score    = EXCLUDED.access_governance_score,
	privilege_escalation_score = EXCLUDED.privilege_escalation_score,
	compliance_posture_score   = EXCLUDED.compliance_posture_score,
	operational_risk_score     = EXCLUDED.operational_risk_score,
	domain_group_score         = EXCLUDED.domain_group_score,
	total_groups               = EXCLUDED.total_groups,
	total_members              = EXCLUDED.total_members,
	total_accepted             = EXCLUDED.total_accepted
RETURNING id`

const insertGroupAssessmentSQL = `
INSERT INTO group_risk_assessments (
	id, assessment_id, group_name, risk_level, risk_score,
	total_members, accepted_count, factors
) VALUES (
	:id, :assessment_id, :group_name, :risk_level, :risk_score,
	:total_members, :accepted_count, :factors
)`

// UpsertDomainRiskAssessment implements Store. The day row is upserted
// and its children deleted and re-inserted inside one transaction, so
// the same calendar day never holds two assessments for a domain.
func (p *Postgres) UpsertDomainRiskAssessment(ctx context.Context, assessment *DomainRiskAssessment, groups []GroupRiskAssessment) error {
	if assessment == nil || assessment.Domain == "" {
		return fmt.Errorf("%w: incomplete assessment", ErrInvalidInput)
	}
	if assessment.ID == uuid.Nil {
		assessment.ID = uuid.New()
	}
	if assessment.AssessmentDate.IsZero() {
		assessment.AssessmentDate = time.Now().UTC()
	}

	return p.withTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := sqlx.NamedQueryContext(ctx, tx, upsertDomainAssessmentSQL, assessment)
		if err != nil {
			return fmt.Errorf("upsert assessment: %w", mapError(err))
		}
		if rows.Next() {
			if err := rows.Scan(&assessment.ID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan assessment id: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close assessment rows: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_risk_assessments WHERE assessment_id = $1`, assessment.ID); err != nil {
			return fmt.Errorf("clear group assessments: %w", mapError(err))
		}

		for i := range groups {
			group := &groups[i]
			if group.ID == uuid.Nil {
				group.ID = uuid.New()
			}
			group.AssessmentID = assessment.ID
			if _, err := tx.NamedExecContext(ctx, insertGroupAssessmentSQL, group); err != nil {
				return fmt.Errorf("insert group assessment %s: %w", group.GroupName, mapError(err))
			}
		}
		return nil
	})
}

// GetDomainRiskAssessment implements Store.
func (p *Postgres) GetDomainRiskAssessment(ctx context.Context, domain string, date time.Time) (*DomainRiskAssessment, []GroupRiskAssessment, error) {
	var assessment DomainRiskAssessment
	err := p.db.GetContext(ctx, &assessment, `
		SELECT * FROM domain_risk_assessments
		WHERE domain = $1 AND assessment_date::date = $2::date`,
		domain, date.UTC())
	if err != nil {
		return nil, nil, mapError(err)
	}

	groups := make([]GroupRiskAssessment, 0)
	err = p.db.SelectContext(ctx, &groups, `
		SELECT * FROM group_risk_assessments
		WHERE assessment_id = $1
		ORDER BY risk_score DESC, group_name`, assessment.ID)
	if err != nil {
		return nil, nil, mapError(err)
	}
	return &assessment, groups, nil
}

// =============================================================================
// Global risk scores
// =============================================================================

const upsertGlobalScoreSQL = `
INSERT INTO global_risk_scores (
	id, domain, assessment_date, global_score,
	config_audit_score, domain_group_score, awareness_risk,
	config_audit_pct, domain_group_pct, awareness_pct,
	trend_direction, trend_percentage
) VALUES (
	:id, :domain, :assessment_date, :global_score,
	:config_audit_score, :domain_group_score, :awareness_risk,
	:config_audit_pct, :domain_group_pct, :awareness_pct,
	:trend_direction, :trend_percentage
)
ON CONFLICT (domain, (assessment_date::date)) DO UPDATE SET
	assessment_date    = EXCLUDED.assessment_date,
	global_score       = EXCLUDED.global_score,
	config_audit_score = EXCLUDED.config_audit_score,
	domain_group_score = EXCLUDED.domain_group_score,
	awareness_risk     = EXCLUDED.awareness_risk,
	config_audit_pct   = EXCLUDED.config_audit_pct,
	domain_group_pct   = EXCLUDED.domain_group_pct,
	awareness_pct      = EXCLUDED.awareness_pct,
	trend_direction    = EXCLUDED.trend_direction,
	trend_percentage   = EXCLUDED.trend_percentage`

// UpsertGlobalRiskScore implements Store.
func (p *Postgres) UpsertGlobalRiskScore(ctx context.Context, score *GlobalRiskScore) error {
	if score == nil || score.Domain == "" {
		return fmt.Errorf("%w: incomplete global score", ErrInvalidInput)
	}
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}
	if score.AssessmentDate.IsZero() {
		score.AssessmentDate = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, upsertGlobalScoreSQL, score)
	return mapError(err)
}

// GetGlobalRiskHistory implements Store.
func (p *Postgres) GetGlobalRiskHistory(ctx context.Context, domain string, days int, excludeToday bool) ([]GlobalRiskScore, error) {
	if days <= 0 {
		days = 30
	}
	history := make([]GlobalRiskScore, 0)
	err := p.db.SelectContext(ctx, &history, `
		SELECT * FROM global_risk_scores
		WHERE domain = $1
		  AND assessment_date >= NOW() - ($2 || ' days')::interval
		  AND (NOT $3 OR assessment_date::date < NOW()::date)
		ORDER BY assessment_date DESC`,
		domain, days, excludeToday)
	if err != nil {
		return nil, mapError(err)
	}
	return history, nil
}

// AppendRiskHistory implements Store.
func (p *Postgres) AppendRiskHistory(ctx context.Context, entry *RiskCalculationHistory) error {
	if entry == nil || entry.Domain == "" || entry.Trigger == "" {
		return fmt.Errorf("%w: incomplete history entry", ErrInvalidInput)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO risk_calculation_history (id, domain, "trigger", created_at, payload)
		VALUES (:id, :domain, :trigger, :created_at, :payload)`, entry)
	return mapError(err)
}

// LatestConfigAuditScore implements Store. Returns nil without error
// when the domain has no config-audit report.
func (p *Postgres) LatestConfigAuditScore(ctx context.Context, domain string) (*int, error) {
	var score *int
	err := p.db.GetContext(ctx, &score, `
		SELECT global_score FROM reports
		WHERE domain = $1 AND tool_type = $2 AND global_score IS NOT NULL
		ORDER BY report_date DESC, upload_date DESC
		LIMIT 1`, domain, ToolConfigAudit)
	if err != nil {
		if errors.Is(mapError(err), ErrNotFound) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return score, nil
}

// LatestAwarenessScore implements Store. The awareness signal arrives
// through programmatic uploads as metadata.awareness_score (0..100,
// positive sense); the newest report carrying it wins.
func (p *Postgres) LatestAwarenessScore(ctx context.Context, domain string) (*float64, error) {
	var score *float64
	err := p.db.GetContext(ctx, &score, `
		SELECT (metadata->>'awareness_score')::float8 FROM reports
		WHERE domain = $1 AND metadata ? 'awareness_score'
		ORDER BY report_date DESC, upload_date DESC
		LIMIT 1`, domain)
	if err != nil {
		if errors.Is(mapError(err), ErrNotFound) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return score, nil
}

// GetRiskBreakdown implements Store. Reads only; no recomputation.
func (p *Postgres) GetRiskBreakdown(ctx context.Context, domain string) (*RiskBreakdown, error) {
	breakdown := &RiskBreakdown{Domain: domain}

	var assessment DomainRiskAssessment
	err := p.db.GetContext(ctx, &assessment, `
		SELECT * FROM domain_risk_assessments
		WHERE domain = $1
		ORDER BY assessment_date DESC
		LIMIT 1`, domain)
	switch {
	case err == nil:
		breakdown.Assessment = &assessment
		groups := make([]GroupRiskAssessment, 0)
		if err := p.db.SelectContext(ctx, &groups, `
			SELECT * FROM group_risk_assessments
			WHERE assessment_id = $1
			ORDER BY risk_score DESC, group_name`, assessment.ID); err != nil {
			return nil, mapError(err)
		}
		breakdown.Groups = groups
	case errors.Is(mapError(err), ErrNotFound):
		// Domain not yet assessed; breakdown stays empty.
	default:
		return nil, mapError(err)
	}

	var global GlobalRiskScore
	err = p.db.GetContext(ctx, &global, `
		SELECT * FROM global_risk_scores
		WHERE domain = $1
		ORDER BY assessment_date DESC
		LIMIT 1`, domain)
	switch {
	case err == nil:
		breakdown.Global = &global
	case errors.Is(mapError(err), ErrNotFound):
	default:
		return nil, mapError(err)
	}

	return breakdown, nil
}

// CompareDomains implements Store. One row per domain from its latest
// global score.
func (p *Postgres) CompareDomains(ctx context.Context) ([]DomainComparison, error) {
	comparisons := make([]DomainComparison, 0)
	err := p.db.SelectContext(ctx, &comparisons, `
		SELECT DISTINCT ON (domain)
			domain, global_score, domain_group_score, config_audit_score,
			trend_direction, assessment_date
		FROM global_risk_scores
		ORDER BY domain, assessment_date DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	return comparisons, nil
}
