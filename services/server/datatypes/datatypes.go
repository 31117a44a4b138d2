// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the HTTP request and response shapes.
package datatypes

import (
	"time"

	"github.com/google/uuid"

	"github.com/kodiaksec/domainwatch/services/ingest"
	"github.com/kodiaksec/domainwatch/services/risk"
	"github.com/kodiaksec/domainwatch/services/store"
)

// PingCastleScores carries the four category scores of a programmatic
// config-audit upload.
type PingCastleScores struct {
	StaleObjects       int `json:"stale_objects"`
	PrivilegedAccounts int `json:"privileged_accounts"`
	Trusts             int `json:"trusts"`
	Anomalies          int `json:"anomalies"`
}

// DomainMetadata carries infrastructure metadata of a programmatic
// config-audit upload.
type DomainMetadata struct {
	DomainSID             *string `json:"domain_sid,omitempty"`
	DomainFunctionalLevel *string `json:"domain_functional_level,omitempty"`
	ForestFunctionalLevel *string `json:"forest_functional_level,omitempty"`
	MaturityLevel         *int    `json:"maturity_level,omitempty"`
	DCCount               *int    `json:"dc_count,omitempty"`
	UserCount             *int    `json:"user_count,omitempty"`
	ComputerCount         *int    `json:"computer_count,omitempty"`
}

// ProgrammaticUpload is the JSON upload body. The server assigns the
// report id.
type ProgrammaticUpload struct {
	Domain           string                          `json:"domain" binding:"required,domainname"`
	ToolType         store.ToolType                  `json:"tool_type" binding:"required"`
	ReportDate       *time.Time                      `json:"report_date,omitempty"`
	Findings         []store.Finding                 `json:"findings,omitempty"`
	Groups           map[string][]ingest.GroupMember `json:"groups,omitempty"`
	PingCastleScores *PingCastleScores               `json:"pingcastle_scores,omitempty"`
	DomainMetadata   *DomainMetadata                 `json:"domain_metadata,omitempty"`
	Metadata         store.Metadata                  `json:"metadata,omitempty"`
	SendAlert        bool                            `json:"send_alert,omitempty"`
}

// UploadResult reports one upload's primary outcome plus its secondary
// statuses (alerting, risk recomputation).
type UploadResult struct {
	ReportID      uuid.UUID      `json:"report_id"`
	ToolType      store.ToolType `json:"tool_type"`
	Domain        string         `json:"domain"`
	FindingsCount int            `json:"findings_count"`
	AlertSent     bool           `json:"alert_sent"`
	Risk          *risk.Outcome  `json:"risk,omitempty"`
}

// BulkUploadItem is the per-item outcome of a bulk upload.
type BulkUploadItem struct {
	Index  int           `json:"index"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Result *UploadResult `json:"result,omitempty"`
}

// HTMLAttachResult reports an HTML companion upload.
type HTMLAttachResult struct {
	Matched  bool       `json:"matched"`
	ReportID *uuid.UUID `json:"report_id,omitempty"`
	Stored   string     `json:"stored"`
}

// AcceptRiskRequest accepts a risk kind.
type AcceptRiskRequest struct {
	ToolType   store.ToolType `json:"tool_type" binding:"required"`
	Category   string         `json:"category" binding:"required"`
	Name       string         `json:"name" binding:"required"`
	Reason     *string        `json:"reason,omitempty"`
	AcceptedBy *string        `json:"accepted_by,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

// MemberToggleRequest accepts or denies one group member.
type MemberToggleRequest struct {
	Domain     string  `json:"domain" binding:"required"`
	Group      string  `json:"group" binding:"required"`
	Member     string  `json:"member" binding:"required"`
	AcceptedBy *string `json:"accepted_by,omitempty"`
}

// MemberToggleResult is the toggle outcome with the recomputation
// substatus.
type MemberToggleResult struct {
	Domain string        `json:"domain"`
	Group  string        `json:"group"`
	Member string        `json:"member"`
	Risk   *risk.Outcome `json:"risk,omitempty"`
}

// FindingStatusRequest changes one finding's lifecycle status.
type FindingStatusRequest struct {
	Status store.FindingStatus `json:"status" binding:"required"`
}

// GroupRiskConfigRequest overrides a group's risk profile.
type GroupRiskConfigRequest struct {
	Domain               string   `json:"domain" binding:"required"`
	GroupName            string   `json:"group_name" binding:"required"`
	BaseRiskScore        *float64 `json:"base_risk_score,omitempty"`
	MaxAcceptableMembers *int     `json:"max_acceptable_members,omitempty"`
	AlertThreshold       *float64 `json:"alert_threshold,omitempty"`
}

// HeartbeatRequest is a beacon agent check-in.
type HeartbeatRequest struct {
	Name     string  `json:"name" binding:"required"`
	Domain   string  `json:"domain" binding:"required"`
	Hostname string  `json:"hostname"`
	Version  *string `json:"version,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
