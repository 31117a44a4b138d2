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
// Accepted risks
// =============================================================================

const upsertAcceptedRiskSQL = `
INSERT INTO accepted_risks (id, tool_type, category, name, reason, accepted_by, accepted_at, expires_at)
VALUES (:id, :tool_type, :category, :name, :reason, :accepted_by, :accepted_at, :expires_at)
ON CONFLICT (tool_type, category, name) DO UPDATE SET
	reason      = EXCLUDED.reason,
	accepted_by = EXCLUDED.accepted_by,
	accepted_at = EXCLUDED.accepted_at,
	expires_at  = EXCLUDED.expires_at`

// UpsertAcceptedRisk implements Store. Accepting an already-accepted
// kind refreshes the decision (idempotent on the kind triple).
func (p *Postgres) UpsertAcceptedRisk(ctx context.Context, risk *AcceptedRisk) error {
	if risk == nil {
		return fmt.Errorf("%w: nil accepted risk", ErrInvalidInput)
	}
	if !risk.ToolType.Valid() || risk.Category == "" || risk.Name == "" {
		return fmt.Errorf("%w: incomplete risk kind", ErrInvalidInput)
	}
	if risk.ID == uuid.Nil {
		risk.ID = uuid.New()
	}
	if risk.AcceptedAt.IsZero() {
		risk.AcceptedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, upsertAcceptedRiskSQL, risk)
	return mapError(err)
}

// RemoveAcceptedRisk implements Store.
func (p *Postgres) RemoveAcceptedRisk(ctx context.Context, kind RiskKind) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM accepted_risks
		WHERE tool_type = $1 AND category = $2 AND name = $3`,
		kind.ToolType, kind.Category, kind.Name)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: accepted risk (%s, %s, %s)",
			ErrNotFound, kind.ToolType, kind.Category, kind.Name)
	}
	return nil
}

// ListAcceptedRisks implements Store.
func (p *Postgres) ListAcceptedRisks(ctx context.Context) ([]AcceptedRisk, error) {
	risks := make([]AcceptedRisk, 0)
	err := p.db.SelectContext(ctx, &risks,
		`SELECT * FROM accepted_risks ORDER BY accepted_at DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	return risks, nil
}

// FilterUnacceptedFindings implements Store. A finding passes the
// filter when its kind triple has no acceptance, or only acceptances
// whose expiry has passed.
func (p *Postgres) FilterUnacceptedFindings(ctx context.Context, findings []Finding) ([]Finding, error) {
	if len(findings) == 0 {
		return nil, nil
	}

	accepted, err := p.ListAcceptedRisks(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	active := make(map[RiskKind]struct{}, len(accepted))
	for _, risk := range accepted {
		if risk.Active(now) {
			active[RiskKind{ToolType: risk.ToolType, Category: risk.Category, Name: risk.Name}] = struct{}{}
		}
	}

	unaccepted := make([]Finding, 0, len(findings))
	for _, finding := range findings {
		if _, ok := active[finding.Kind()]; !ok {
			unaccepted = append(unaccepted, finding)
		}
	}
	return unaccepted, nil
}
