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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Monitored groups and memberships
// =============================================================================

const insertMembershipSQL = `
INSERT INTO group_memberships (
	id, report_id, group_id, group_name, member_name, member_sam,
	member_sid, member_type, member_enabled, observed_at
) VALUES (
	:id, :report_id, :group_id, :group_name, :member_name, :member_sam,
	:member_sid, :member_type, :member_enabled, :observed_at
)`

// SaveGroupMemberships implements Store. Group names are resolved
// against monitored_groups inside the transaction, creating missing
// rows; parsers never fabricate group ids. Duplicate members within
// the same (report, group, member SID) collapse to one row.
func (p *Postgres) SaveGroupMemberships(ctx context.Context, reportID uuid.UUID, domain string, memberships []GroupMembership) error {
	if reportID == uuid.Nil {
		return fmt.Errorf("%w: nil report id", ErrInvalidInput)
	}
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidInput)
	}
	if len(memberships) == 0 {
		return nil
	}

	return p.withTx(ctx, func(tx *sqlx.Tx) error {
		groupIDs := make(map[string]uuid.UUID)
		type dedupKey struct {
			group uuid.UUID
			sid   string
		}
		seen := make(map[dedupKey]struct{}, len(memberships))

		now := time.Now().UTC()
		for i := range memberships {
			m := &memberships[i]

			groupID, ok := groupIDs[m.GroupName]
			if !ok {
				var err error
				groupID, err = resolveGroupTx(ctx, tx, domain, m.GroupName)
				if err != nil {
					return err
				}
				groupIDs[m.GroupName] = groupID
			}

			// Dedup on member SID within the group; fall back to the
			// member name for tools that do not report SIDs.
			sid := m.MemberSID
			if sid == "" {
				sid = strings.ToLower(m.MemberName)
			}
			key := dedupKey{group: groupID, sid: sid}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			m.ReportID = reportID
			m.GroupID = groupID
			if m.ObservedAt.IsZero() {
				m.ObservedAt = now
			}
			if _, err := tx.NamedExecContext(ctx, insertMembershipSQL, m); err != nil {
				return fmt.Errorf("insert membership %s/%s: %w", m.GroupName, m.MemberName, mapError(err))
			}
		}
		return nil
	})
}

// resolveGroupTx finds or creates the monitored group row for
// (domain, name) and returns its id.
func resolveGroupTx(ctx context.Context, tx *sqlx.Tx, domain, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.GetContext(ctx, &id,
		`SELECT id FROM monitored_groups WHERE domain = $1 AND group_name = $2`, domain, name)
	if err == nil {
		return id, nil
	}

	id = uuid.New()
	// A concurrent insert may win the race; ON CONFLICT returns the
	// existing row either way.
	err = tx.GetContext(ctx, &id, `
		INSERT INTO monitored_groups (id, domain, group_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain, group_name) DO UPDATE SET group_name = EXCLUDED.group_name
		RETURNING id`, id, domain, name, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve group %s/%s: %w", domain, name, mapError(err))
	}
	return id, nil
}

// ListMonitoredGroups implements Store.
func (p *Postgres) ListMonitoredGroups(ctx context.Context, domain string) ([]MonitoredGroup, error) {
	groups := make([]MonitoredGroup, 0)
	err := p.db.SelectContext(ctx, &groups, `
		SELECT * FROM monitored_groups
		WHERE ($1 = '' OR domain = $1)
		ORDER BY domain, group_name`, domain)
	if err != nil {
		return nil, mapError(err)
	}
	return groups, nil
}

// =============================================================================
// Accepted group members
// =============================================================================

const upsertAcceptedMemberSQL = `
INSERT INTO accepted_group_members (id, domain, group_name, member_name, accepted_by, accepted_at)
VALUES (:id, :domain, :group_name, :member_name, :accepted_by, :accepted_at)
ON CONFLICT (domain, group_name, member_name) DO UPDATE SET
	accepted_by = EXCLUDED.accepted_by,
	accepted_at = EXCLUDED.accepted_at`

// UpsertAcceptedGroupMember implements Store.
func (p *Postgres) UpsertAcceptedGroupMember(ctx context.Context, member *AcceptedGroupMember) error {
	if member == nil {
		return fmt.Errorf("%w: nil accepted member", ErrInvalidInput)
	}
	if member.Domain == "" || member.GroupName == "" || member.MemberName == "" {
		return fmt.Errorf("%w: incomplete member triple", ErrInvalidInput)
	}
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	if member.AcceptedAt.IsZero() {
		member.AcceptedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, upsertAcceptedMemberSQL, member)
	return mapError(err)
}

// RemoveAcceptedGroupMember implements Store.
func (p *Postgres) RemoveAcceptedGroupMember(ctx context.Context, domain, group, member string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM accepted_group_members
		WHERE domain = $1 AND group_name = $2 AND member_name = $3`,
		domain, group, member)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: accepted member (%s, %s, %s)", ErrNotFound, domain, group, member)
	}
	return nil
}

// ListAcceptedGroupMembers implements Store.
func (p *Postgres) ListAcceptedGroupMembers(ctx context.Context, domain string) ([]AcceptedGroupMember, error) {
	members := make([]AcceptedGroupMember, 0)
	err := p.db.SelectContext(ctx, &members, `
		SELECT * FROM accepted_group_members
		WHERE ($1 = '' OR domain = $1)
		ORDER BY group_name, member_name`, domain)
	if err != nil {
		return nil, mapError(err)
	}
	return members, nil
}

// =============================================================================
// Group risk configs
// =============================================================================

const upsertGroupRiskConfigSQL = `
INSERT INTO group_risk_configs (id, domain, group_name, base_risk_score, max_acceptable_members, alert_threshold)
VALUES (:id, :domain, :group_name, :base_risk_score, :max_acceptable_members, :alert_threshold)
ON CONFLICT (domain, group_name) DO UPDATE SET
	base_risk_score        = EXCLUDED.base_risk_score,
	max_acceptable_members = EXCLUDED.max_acceptable_members,
	alert_threshold        = EXCLUDED.alert_threshold`

// UpsertGroupRiskConfig implements Store.
func (p *Postgres) UpsertGroupRiskConfig(ctx context.Context, cfg *GroupRiskConfig) error {
	if cfg == nil || cfg.Domain == "" || cfg.GroupName == "" {
		return fmt.Errorf("%w: incomplete group risk config", ErrInvalidInput)
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	_, err := p.db.NamedExecContext(ctx, upsertGroupRiskConfigSQL, cfg)
	return mapError(err)
}

// ListGroupRiskConfigs implements Store.
func (p *Postgres) ListGroupRiskConfigs(ctx context.Context, domain string) ([]GroupRiskConfig, error) {
	configs := make([]GroupRiskConfig, 0)
	err := p.db.SelectContext(ctx, &configs, `
		SELECT * FROM group_risk_configs
		WHERE ($1 = '' OR domain = $1)
		ORDER BY group_name`, domain)
	if err != nil {
		return nil, mapError(err)
	}
	return configs, nil
}

// LatestDomainAnalysis implements Store.
func (p *Postgres) LatestDomainAnalysis(ctx context.Context, domain string) (*Report, error) {
	var report Report
	err := p.db.GetContext(ctx, &report, `
		SELECT * FROM reports
		WHERE domain = $1 AND tool_type = $2
		ORDER BY report_date DESC, upload_date DESC
		LIMIT 1`, domain, ToolDomainAnalysis)
	if err != nil {
		return nil, mapError(err)
	}
	if err := p.db.SelectContext(ctx, &report.Findings,
		`SELECT * FROM findings WHERE report_id = $1 ORDER BY name`, report.ID); err != nil {
		return nil, mapError(err)
	}
	return &report, nil
}
