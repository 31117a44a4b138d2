// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Enumerations
// =============================================================================

// ToolType identifies the assessment tool a report came from.
type ToolType string

const (
	ToolConfigAudit        ToolType = "CONFIG_AUDIT"
	ToolPKIAudit           ToolType = "PKI_AUDIT"
	ToolDomainAnalysis     ToolType = "DOMAIN_ANALYSIS"
	ToolDomainGroupMembers ToolType = "DOMAIN_GROUP_MEMBERS"
	ToolCustom             ToolType = "CUSTOM"
)

// Valid reports whether t is one of the recognized tool types.
func (t ToolType) Valid() bool {
	switch t {
	case ToolConfigAudit, ToolPKIAudit, ToolDomainAnalysis, ToolDomainGroupMembers, ToolCustom:
		return true
	}
	return false
}

// Severity classifies a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityForScore maps a finding score to a severity band. The bands
// follow the upstream tools: 30+ is high, 10+ is medium.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 30:
		return SeverityHigh
	case score >= 10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// FindingStatus is the operator-visible lifecycle state of a finding.
type FindingStatus string

const (
	StatusNew           FindingStatus = "new"
	StatusAccepted      FindingStatus = "accepted"
	StatusResolved      FindingStatus = "resolved"
	StatusFalsePositive FindingStatus = "false_positive"
)

// TrendDirection classifies global score movement between assessments.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// =============================================================================
// Metadata
// =============================================================================

// Metadata is an open-ended string-to-JSON map persisted as a native
// JSONB column. A nil map stores SQL NULL.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("metadata: cannot scan %T", src)
	}
}

// =============================================================================
// Core entities
// =============================================================================

// Report is one ingestion of one tool's output for one domain at one
// point in time.
//
// Only CONFIG_AUDIT reports may carry infrastructure metadata and the
// four category scores; DOMAIN_ANALYSIS reports carry domain and
// domain SID only. SaveReport enforces this by nulling out-of-contract
// fields (see the data-separation invariant).
type Report struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ToolType   ToolType  `db:"tool_type" json:"tool_type"`
	Domain     string    `db:"domain" json:"domain"`
	ReportDate time.Time `db:"report_date" json:"report_date"`
	UploadDate time.Time `db:"upload_date" json:"upload_date"`

	// Infrastructure metadata. CONFIG_AUDIT only, except DomainSID
	// which DOMAIN_ANALYSIS may also set.
	DomainSID             *string `db:"domain_sid" json:"domain_sid,omitempty"`
	DomainFunctionalLevel *string `db:"domain_functional_level" json:"domain_functional_level,omitempty"`
	ForestFunctionalLevel *string `db:"forest_functional_level" json:"forest_functional_level,omitempty"`
	MaturityLevel         *int    `db:"maturity_level" json:"maturity_level,omitempty"`
	DCCount               *int    `db:"dc_count" json:"dc_count,omitempty"`
	UserCount             *int    `db:"user_count" json:"user_count,omitempty"`
	ComputerCount         *int    `db:"computer_count" json:"computer_count,omitempty"`

	// PingCastle-family category scores. CONFIG_AUDIT only.
	StaleObjectsScore       *int `db:"stale_objects_score" json:"stale_objects_score,omitempty"`
	PrivilegedAccountsScore *int `db:"privileged_accounts_score" json:"privileged_accounts_score,omitempty"`
	TrustsScore             *int `db:"trusts_score" json:"trusts_score,omitempty"`
	AnomaliesScore          *int `db:"anomalies_score" json:"anomalies_score,omitempty"`
	GlobalScore             *int `db:"global_score" json:"global_score,omitempty"`

	FilePath *string `db:"file_path" json:"file_path,omitempty"`
	HTMLPath *string `db:"html_path" json:"html_path,omitempty"`

	Metadata Metadata `db:"metadata" json:"metadata,omitempty"`

	// Findings are loaded on demand; not a column.
	Findings []Finding `db:"-" json:"findings,omitempty"`
}

// RiskKind is the identity triple of a recurring risk across reports.
// It is the unit at which operators accept risks.
type RiskKind struct {
	ToolType ToolType `db:"tool_type" json:"tool_type"`
	Category string   `db:"category" json:"category"`
	Name     string   `db:"name" json:"name"`
}

// Finding is one observation inside a report.
type Finding struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	ReportID       uuid.UUID     `db:"report_id" json:"report_id"`
	ToolType       ToolType      `db:"tool_type" json:"tool_type"`
	Category       string        `db:"category" json:"category"`
	Name           string        `db:"name" json:"name"`
	Score          float64       `db:"score" json:"score"`
	Severity       Severity      `db:"severity" json:"severity"`
	Description    string        `db:"description" json:"description"`
	Recommendation string        `db:"recommendation" json:"recommendation"`
	Status         FindingStatus `db:"status" json:"status"`
	Metadata       Metadata      `db:"metadata" json:"metadata,omitempty"`
}

// Kind returns the finding's risk identity triple.
func (f Finding) Kind() RiskKind {
	return RiskKind{ToolType: f.ToolType, Category: f.Category, Name: f.Name}
}

// AcceptedRisk is an operator decision to suppress alerting and risk
// contribution for a risk kind. A nil ExpiresAt means no expiry.
type AcceptedRisk struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ToolType   ToolType   `db:"tool_type" json:"tool_type"`
	Category   string     `db:"category" json:"category"`
	Name       string     `db:"name" json:"name"`
	Reason     *string    `db:"reason" json:"reason,omitempty"`
	AcceptedBy *string    `db:"accepted_by" json:"accepted_by,omitempty"`
	AcceptedAt time.Time  `db:"accepted_at" json:"accepted_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Active reports whether the acceptance is in force at the given time.
func (a AcceptedRisk) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// =============================================================================
// Group governance entities
// =============================================================================

// MonitoredGroup is a privileged AD group tracked per domain.
type MonitoredGroup struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Domain    string    `db:"domain" json:"domain"`
	GroupName string    `db:"group_name" json:"group_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupMembership is one (report x group x member) observation. Rows
// are scoped to their report and never deduplicated across reports.
type GroupMembership struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ReportID      uuid.UUID `db:"report_id" json:"report_id"`
	GroupID       uuid.UUID `db:"group_id" json:"group_id"`
	GroupName     string    `db:"group_name" json:"group_name"`
	MemberName    string    `db:"member_name" json:"member_name"`
	MemberSam     string    `db:"member_sam" json:"member_sam"`
	MemberSID     string    `db:"member_sid" json:"member_sid"`
	MemberType    string    `db:"member_type" json:"member_type"`
	MemberEnabled *bool     `db:"member_enabled" json:"member_enabled,omitempty"`
	ObservedAt    time.Time `db:"observed_at" json:"observed_at"`
}

// AcceptedGroupMember is an operator decision that a member's presence
// in a privileged group is authorized. Unique on (domain, group, member).
type AcceptedGroupMember struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Domain     string    `db:"domain" json:"domain"`
	GroupName  string    `db:"group_name" json:"group_name"`
	MemberName string    `db:"member_name" json:"member_name"`
	AcceptedBy *string   `db:"accepted_by" json:"accepted_by,omitempty"`
	AcceptedAt time.Time `db:"accepted_at" json:"accepted_at"`
}

// GroupRiskConfig overrides the default risk profile for one group in
// one domain.
type GroupRiskConfig struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	Domain               string    `db:"domain" json:"domain"`
	GroupName            string    `db:"group_name" json:"group_name"`
	BaseRiskScore        *float64  `db:"base_risk_score" json:"base_risk_score,omitempty"`
	MaxAcceptableMembers *int      `db:"max_acceptable_members" json:"max_acceptable_members,omitempty"`
	AlertThreshold       *float64  `db:"alert_threshold" json:"alert_threshold,omitempty"`
}

// =============================================================================
// Risk assessment materializations
// =============================================================================

// DomainRiskAssessment is the materialized category scoring for a
// domain on a calendar day. At most one row per (domain, day); later
// computations the same day update in place.
type DomainRiskAssessment struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	Domain              string    `db:"domain" json:"domain"`
	AssessmentDate      time.Time `db:"assessment_date" json:"assessment_date"`
	AccessGovernance    float64   `db:"access_governance_score" json:"access_governance_score"`
	PrivilegeEscalation float64   `db:"privilege_escalation_score" json:"privilege_escalation_score"`
	CompliancePosture   float64   `db:"compliance_posture_score" json:"compliance_posture_score"`
	OperationalRisk     float64   `db:"operational_risk_score" json:"operational_risk_score"`
	DomainGroupScore    float64   `db:"domain_group_score" json:"domain_group_score"`
	TotalGroups         int       `db:"total_groups" json:"total_groups"`
	TotalMembers        int       `db:"total_members" json:"total_members"`
	TotalAccepted       int       `db:"total_accepted" json:"total_accepted"`
}

// GroupRiskAssessment is the per-group breakdown attached to one
// DomainRiskAssessment. Children are replaced on every recomputation.
type GroupRiskAssessment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AssessmentID  uuid.UUID `db:"assessment_id" json:"assessment_id"`
	GroupName     string    `db:"group_name" json:"group_name"`
	RiskLevel     string    `db:"risk_level" json:"risk_level"`
	RiskScore     float64   `db:"risk_score" json:"risk_score"`
	TotalMembers  int       `db:"total_members" json:"total_members"`
	AcceptedCount int       `db:"accepted_count" json:"accepted_count"`
	Factors       Metadata  `db:"factors" json:"factors,omitempty"`
}

// GlobalRiskScore is the materialized combined score per (domain, day).
// Contribution percentages are nil when the signal is absent.
type GlobalRiskScore struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Domain         string    `db:"domain" json:"domain"`
	AssessmentDate time.Time `db:"assessment_date" json:"assessment_date"`

	GlobalScore      float64  `db:"global_score" json:"global_score"`
	ConfigAuditScore *float64 `db:"config_audit_score" json:"config_audit_score,omitempty"`
	DomainGroupScore float64  `db:"domain_group_score" json:"domain_group_score"`
	AwarenessRisk    *float64 `db:"awareness_risk" json:"awareness_risk,omitempty"`

	ConfigAuditPct *float64 `db:"config_audit_pct" json:"config_audit_pct,omitempty"`
	DomainGroupPct *float64 `db:"domain_group_pct" json:"domain_group_pct,omitempty"`
	AwarenessPct   *float64 `db:"awareness_pct" json:"awareness_pct,omitempty"`

	TrendDirection  TrendDirection `db:"trend_direction" json:"trend_direction"`
	TrendPercentage float64        `db:"trend_percentage" json:"trend_percentage"`
}

// RiskCalculationHistory is an append-only audit log of recomputations.
type RiskCalculationHistory struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Domain    string    `db:"domain" json:"domain"`
	Trigger   string    `db:"trigger" json:"trigger"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Payload   Metadata  `db:"payload" json:"payload,omitempty"`
}

// =============================================================================
// Operational entities
// =============================================================================

// SchemaMigration is one row of the applied-migrations ledger.
type SchemaMigration struct {
	Version         int       `db:"version" json:"version"`
	Filename        string    `db:"filename" json:"filename"`
	Description     string    `db:"description" json:"description"`
	Checksum        string    `db:"checksum" json:"checksum"`
	ExecutionTimeMs int64     `db:"execution_time_ms" json:"execution_time_ms"`
	AppliedAt       time.Time `db:"applied_at" json:"applied_at"`
}

// Agent is a registered beacon agent. The agent binary itself is out
// of scope; the registry is kept for heartbeats and the health checker.
type Agent struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Domain   string    `db:"domain" json:"domain"`
	Hostname string    `db:"hostname" json:"hostname"`
	LastSeen time.Time `db:"last_seen" json:"last_seen"`
	Version  *string   `db:"version" json:"version,omitempty"`
}

// Recognized settings keys.
const (
	SettingWebhookURL            = "webhook_url"
	SettingAlertMessage          = "alert_message"
	SettingRetentionDays         = "retention_days"
	SettingAutoAcceptLowSeverity = "auto_accept_low_severity"
)

// =============================================================================
// Read models
// =============================================================================

// ReportFilter narrows GetReportsSummary.
type ReportFilter struct {
	Domain   string
	ToolType ToolType
	Limit    int
}

// ReportSummary is a lightweight listing row.
type ReportSummary struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ToolType     ToolType  `db:"tool_type" json:"tool_type"`
	Domain       string    `db:"domain" json:"domain"`
	ReportDate   time.Time `db:"report_date" json:"report_date"`
	UploadDate   time.Time `db:"upload_date" json:"upload_date"`
	GlobalScore  *int      `db:"global_score" json:"global_score,omitempty"`
	FindingCount int       `db:"finding_count" json:"finding_count"`
}

// CompositeDomainView is one row of v_dashboard_composite: category
// scores and infrastructure metadata from the latest CONFIG_AUDIT
// report, group metrics from the latest DOMAIN_ANALYSIS report. This
// view is the read-side mechanism that keeps the two tools' uploads
// from overwriting each other's view of a domain.
type CompositeDomainView struct {
	Domain string `db:"domain" json:"domain"`

	ConfigReportID          *uuid.UUID `db:"config_report_id" json:"config_report_id,omitempty"`
	ConfigReportDate        *time.Time `db:"config_report_date" json:"config_report_date,omitempty"`
	DomainSID               *string    `db:"domain_sid" json:"domain_sid,omitempty"`
	DomainFunctionalLevel   *string    `db:"domain_functional_level" json:"domain_functional_level,omitempty"`
	ForestFunctionalLevel   *string    `db:"forest_functional_level" json:"forest_functional_level,omitempty"`
	MaturityLevel           *int       `db:"maturity_level" json:"maturity_level,omitempty"`
	DCCount                 *int       `db:"dc_count" json:"dc_count,omitempty"`
	UserCount               *int       `db:"user_count" json:"user_count,omitempty"`
	ComputerCount           *int       `db:"computer_count" json:"computer_count,omitempty"`
	StaleObjectsScore       *int       `db:"stale_objects_score" json:"stale_objects_score,omitempty"`
	PrivilegedAccountsScore *int       `db:"privileged_accounts_score" json:"privileged_accounts_score,omitempty"`
	TrustsScore             *int       `db:"trusts_score" json:"trusts_score,omitempty"`
	AnomaliesScore          *int       `db:"anomalies_score" json:"anomalies_score,omitempty"`
	GlobalScore             *int       `db:"global_score" json:"global_score,omitempty"`

	GroupReportID   *uuid.UUID `db:"group_report_id" json:"group_report_id,omitempty"`
	GroupReportDate *time.Time `db:"group_report_date" json:"group_report_date,omitempty"`
	GroupCount      *int       `db:"group_count" json:"group_count,omitempty"`
	MemberCount     *int       `db:"member_count" json:"member_count,omitempty"`
}

// DashboardKPIs is the pre-aggregated dashboard header.
type DashboardKPIs struct {
	Domains            int      `db:"domains" json:"domains"`
	Reports            int      `db:"reports" json:"reports"`
	OpenFindings       int      `db:"open_findings" json:"open_findings"`
	AcceptedRisks      int      `db:"accepted_risks" json:"accepted_risks"`
	HighSeverity       int      `db:"high_severity" json:"high_severity"`
	AvgGlobalScore     *float64 `db:"avg_global_score" json:"avg_global_score,omitempty"`
	MonitoredGroups    int      `db:"monitored_groups" json:"monitored_groups"`
	AcceptedMembers    int      `db:"accepted_members" json:"accepted_members"`
	DegradingDomains   int      `db:"degrading_domains" json:"degrading_domains"`
	AssessedYesterday  int      `db:"assessed_yesterday" json:"assessed_yesterday"`
}

// DomainComparison is one row of the cross-domain listing.
type DomainComparison struct {
	Domain           string         `db:"domain" json:"domain"`
	GlobalScore      float64        `db:"global_score" json:"global_score"`
	DomainGroupScore float64        `db:"domain_group_score" json:"domain_group_score"`
	ConfigAuditScore *float64       `db:"config_audit_score" json:"config_audit_score,omitempty"`
	TrendDirection   TrendDirection `db:"trend_direction" json:"trend_direction"`
	AssessmentDate   time.Time      `db:"assessment_date" json:"assessment_date"`
}

// RiskBreakdown bundles the latest assessment artifacts for a domain.
type RiskBreakdown struct {
	Domain     string                `json:"domain"`
	Assessment *DomainRiskAssessment `json:"assessment,omitempty"`
	Groups     []GroupRiskAssessment `json:"groups,omitempty"`
	Global     *GlobalRiskScore      `json:"global,omitempty"`
}
