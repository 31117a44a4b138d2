// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the normalized security-posture model:
// reports and findings, accepted risks, privileged-group governance,
// and the materialized risk assessments.
//
// All write paths run inside a single transaction and are idempotent
// on their natural keys (report by id, accepted risk by kind triple,
// assessments by (domain, day)). Reads that feed the dashboard go
// through the composite view rather than raw report rows so that
// CONFIG_AUDIT and DOMAIN_ANALYSIS uploads never overwrite each
// other's view of a domain.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors forming the store's error taxonomy. Callers match
// with errors.Is and translate to transport status codes at the
// boundary.
var (
	// ErrNotFound: lookup by id or natural key matched no row.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict: uniqueness violation on a natural key that the
	// operation does not treat as an idempotent upsert.
	ErrConflict = errors.New("store: conflict")

	// ErrUnavailable: connectivity or migration-state failure.
	ErrUnavailable = errors.New("store: storage unavailable")

	// ErrIntegrity: the data-separation invariant was violated by the
	// caller. SaveReport logs and drops the offending fields rather
	// than returning this; it is surfaced only by validation helpers.
	ErrIntegrity = errors.New("store: integrity violation")

	// ErrInvalidInput: the entity fails basic validation (unknown tool
	// type, empty domain, negative score).
	ErrInvalidInput = errors.New("store: invalid input")
)

// Store is the persistence contract for the risk-integration engine.
// Implementations must be safe for concurrent use; every operation
// takes a context honored across database round-trips.
type Store interface {
	// --- Reports and findings ---

	// SaveReport transactionally inserts (or, by id, replaces) a report
	// with its findings and upserts the risk catalog for every finding
	// kind. Fields that violate the data-separation invariant for the
	// report's tool type are dropped and logged, not persisted.
	SaveReport(ctx context.Context, report *Report) (uuid.UUID, error)

	// UpdateReportHTML attaches a companion HTML file to a report.
	UpdateReportHTML(ctx context.Context, id uuid.UUID, path string) error

	// FindReportByFileStem locates the most recent XML report whose
	// stored file path shares the given filename stem. Used to match
	// orphaned HTML companions.
	FindReportByFileStem(ctx context.Context, stem string) (*Report, error)

	// GetReport loads a report and its findings.
	GetReport(ctx context.Context, id uuid.UUID) (*Report, error)

	// GetReportsSummary lists reports, optionally filtered.
	GetReportsSummary(ctx context.Context, filter ReportFilter) ([]ReportSummary, error)

	// UpdateFindingStatus changes one finding's lifecycle status.
	UpdateFindingStatus(ctx context.Context, findingID uuid.UUID, status FindingStatus) error

	// --- Accepted risks ---

	UpsertAcceptedRisk(ctx context.Context, risk *AcceptedRisk) error
	RemoveAcceptedRisk(ctx context.Context, kind RiskKind) error
	ListAcceptedRisks(ctx context.Context) ([]AcceptedRisk, error)

	// FilterUnacceptedFindings returns the subset of findings whose
	// kind has no active (unexpired) acceptance.
	FilterUnacceptedFindings(ctx context.Context, findings []Finding) ([]Finding, error)

	// --- Group governance ---

	// SaveGroupMemberships stores one report's group observations.
	// Group names are resolved against monitored_groups, creating
	// missing rows in the same transaction; duplicates within the same
	// (report, group, member SID) are collapsed.
	SaveGroupMemberships(ctx context.Context, reportID uuid.UUID, domain string, memberships []GroupMembership) error

	ListMonitoredGroups(ctx context.Context, domain string) ([]MonitoredGroup, error)

	UpsertAcceptedGroupMember(ctx context.Context, member *AcceptedGroupMember) error
	RemoveAcceptedGroupMember(ctx context.Context, domain, group, member string) error
	ListAcceptedGroupMembers(ctx context.Context, domain string) ([]AcceptedGroupMember, error)

	UpsertGroupRiskConfig(ctx context.Context, cfg *GroupRiskConfig) error
	ListGroupRiskConfigs(ctx context.Context, domain string) ([]GroupRiskConfig, error)

	// LatestDomainAnalysis loads the most recent DOMAIN_ANALYSIS report
	// for the domain, findings included. ErrNotFound when the domain
	// has no group data yet.
	LatestDomainAnalysis(ctx context.Context, domain string) (*Report, error)

	// --- Risk assessments ---

	// UpsertDomainRiskAssessment writes the (domain, day) row and
	// replaces its child group assessments in one transaction. The
	// returned assessment carries the persisted id.
	UpsertDomainRiskAssessment(ctx context.Context, assessment *DomainRiskAssessment, groups []GroupRiskAssessment) error

	// GetDomainRiskAssessment returns the assessment for the calendar
	// day containing date, with children.
	GetDomainRiskAssessment(ctx context.Context, domain string, date time.Time) (*DomainRiskAssessment, []GroupRiskAssessment, error)

	UpsertGlobalRiskScore(ctx context.Context, score *GlobalRiskScore) error

	// GetGlobalRiskHistory returns up to days of history, newest first,
	// excluding the current day's row when excludeToday is set (trend
	// comparison must not compare a score against itself).
	GetGlobalRiskHistory(ctx context.Context, domain string, days int, excludeToday bool) ([]GlobalRiskScore, error)

	AppendRiskHistory(ctx context.Context, entry *RiskCalculationHistory) error

	// LatestConfigAuditScore returns the newest CONFIG_AUDIT global
	// score for the domain, or nil when none exists.
	LatestConfigAuditScore(ctx context.Context, domain string) (*int, error)

	// LatestAwarenessScore returns the newest awareness score (0..100,
	// positive sense) reported for the domain, or nil when none exists.
	LatestAwarenessScore(ctx context.Context, domain string) (*float64, error)

	GetRiskBreakdown(ctx context.Context, domain string) (*RiskBreakdown, error)
	CompareDomains(ctx context.Context) ([]DomainComparison, error)

	// --- Dashboard ---

	GetCompositeDashboard(ctx context.Context, domain string) ([]CompositeDomainView, error)
	GetDashboardKPIs(ctx context.Context, domain string) (*DashboardKPIs, error)

	// RefreshReportsKPIs recomputes the reports_kpis rollup row for a
	// domain after a completed recomputation.
	RefreshReportsKPIs(ctx context.Context, domain string) error

	// --- Settings and agents ---

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetSettings(ctx context.Context) (map[string]string, error)

	UpsertAgent(ctx context.Context, agent *Agent) error
	ListAgents(ctx context.Context) ([]Agent, error)

	// --- Maintenance ---

	// PruneReports deletes reports (and their findings and memberships,
	// by cascade) older than retentionDays. Returns rows removed.
	PruneReports(ctx context.Context, retentionDays int) (int64, error)

	Close() error
}
