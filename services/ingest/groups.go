// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kodiaksec/domainwatch/services/store"
)

// GroupMember is one normalized member of a privileged group.
type GroupMember struct {
	Name    string `json:"name"`
	Sam     string `json:"sam,omitempty"`
	SID     string `json:"sid,omitempty"`
	Type    string `json:"type,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// groupDocument covers both accepted JSON shapes. Structured exports
// carry member objects; legacy exports carry plain strings. Both live
// under the same "groups" key, so members decode lazily.
type groupDocument struct {
	Domain     string                     `json:"domain"`
	DomainSID  string                     `json:"domain_sid"`
	ReportDate string                     `json:"report_date"`
	Groups     map[string]json.RawMessage `json:"groups"`
}

// GroupMembersParser ingests domain-group enumeration JSON.
type GroupMembersParser struct{}

// NewGroupMembersParser creates the domain-group JSON parser.
func NewGroupMembersParser() *GroupMembersParser { return &GroupMembersParser{} }

func (p *GroupMembersParser) ToolType() store.ToolType { return store.ToolDomainAnalysis }

func (p *GroupMembersParser) SupportedExtensions() []string { return []string{".json"} }

// CanParse probes for a top-level "groups" key.
func (p *GroupMembersParser) CanParse(_ string, data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte(`"groups"`))
}

// Parse normalizes both group-document shapes into one Report. Each
// non-empty group becomes one Finding carrying its member list in
// metadata; empty groups produce nothing. The report populates domain
// and domain_sid only.
func (p *GroupMembersParser) Parse(filename string, data []byte) (*store.Report, error) {
	var doc groupDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if strings.TrimSpace(doc.Domain) == "" {
		return nil, fmt.Errorf("missing domain")
	}
	if len(doc.Groups) == 0 {
		return nil, fmt.Errorf("missing groups")
	}

	report := &store.Report{
		ToolType: store.ToolDomainAnalysis,
		Domain:   strings.ToLower(strings.TrimSpace(doc.Domain)),
		FilePath: &filename,
	}
	if sid := strings.TrimSpace(doc.DomainSID); sid != "" {
		report.DomainSID = &sid
	}
	if raw := strings.TrimSpace(doc.ReportDate); raw != "" {
		parsed, err := parseReportDate(raw)
		if err != nil {
			return nil, err
		}
		report.ReportDate = parsed
	}

	groups := make(map[string][]GroupMember, len(doc.Groups))
	for groupName, rawMembers := range doc.Groups {
		members, err := decodeMembers(rawMembers)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", groupName, err)
		}
		groups[groupName] = members
	}
	report.Findings = BuildGroupFindings(groups)

	return report, nil
}

// BuildGroupFindings turns normalized group member lists into one
// Finding per non-empty group, member list carried in metadata. Also
// used by the programmatic upload path.
func BuildGroupFindings(groups map[string][]GroupMember) []store.Finding {
	var findings []store.Finding
	for groupName, members := range groups {
		if len(members) == 0 {
			continue
		}
		memberMaps := make([]any, 0, len(members))
		for _, member := range members {
			memberMaps = append(memberMaps, member)
		}
		findings = append(findings, store.Finding{
			ToolType:    store.ToolDomainAnalysis,
			Category:    "GroupMembers",
			Name:        groupName,
			Score:       float64(len(members)),
			Severity:    store.SeverityForScore(float64(len(members))),
			Description: fmt.Sprintf("%d members in %s", len(members), groupName),
			Status:      store.StatusNew,
			Metadata: store.Metadata{
				"members":      memberMaps,
				"member_count": len(members),
			},
		})
	}
	return findings
}

// decodeMembers accepts either member objects or legacy plain strings.
func decodeMembers(raw json.RawMessage) ([]GroupMember, error) {
	var structured []GroupMember
	if err := json.Unmarshal(raw, &structured); err == nil {
		return structured, nil
	}

	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("unrecognized member list shape")
	}
	members := make([]GroupMember, 0, len(legacy))
	for _, entry := range legacy {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		member := GroupMember{Name: entry, Type: "user"}
		// Legacy entries may be DOMAIN\sam.
		if idx := strings.LastIndex(entry, `\`); idx >= 0 && idx < len(entry)-1 {
			member.Sam = entry[idx+1:]
		}
		members = append(members, member)
	}
	return members, nil
}

// MembershipsFromReport projects a domain-analysis report's findings
// into GroupMembership rows for the store. Group ids are resolved by
// the store at save time.
func MembershipsFromReport(report *store.Report) []store.GroupMembership {
	if report == nil || report.ToolType != store.ToolDomainAnalysis {
		return nil
	}

	observed := report.ReportDate
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	var memberships []store.GroupMembership
	for _, finding := range report.Findings {
		rawMembers, ok := finding.Metadata["members"].([]any)
		if !ok {
			continue
		}
		for _, rawMember := range rawMembers {
			member, ok := coerceMember(rawMember)
			if !ok {
				continue
			}
			memberships = append(memberships, store.GroupMembership{
				ReportID:      report.ID,
				GroupName:     finding.Name,
				MemberName:    member.Name,
				MemberSam:     member.Sam,
				MemberSID:     member.SID,
				MemberType:    member.Type,
				MemberEnabled: member.Enabled,
				ObservedAt:    observed,
			})
		}
	}
	return memberships
}

// coerceMember handles both in-process GroupMember values and the
// map form that survives a JSONB round-trip.
func coerceMember(raw any) (GroupMember, bool) {
	switch v := raw.(type) {
	case GroupMember:
		return v, true
	case map[string]any:
		member := GroupMember{}
		member.Name, _ = v["name"].(string)
		member.Sam, _ = v["sam"].(string)
		member.SID, _ = v["sid"].(string)
		member.Type, _ = v["type"].(string)
		if enabled, ok := v["enabled"].(bool); ok {
			member.Enabled = &enabled
		}
		if member.Name == "" {
			return GroupMember{}, false
		}
		return member, true
	}
	return GroupMember{}, false
}
