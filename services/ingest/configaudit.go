// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kodiaksec/domainwatch/services/store"
)

// Category names used by the config-audit tool. Points from rule nodes
// are summed per category; the global score is the sum of the four.
const (
	CategoryStaleObjects       = "StaleObjects"
	CategoryPrivilegedAccounts = "PrivilegedAccounts"
	CategoryTrusts             = "Trusts"
	CategoryAnomalies          = "Anomalies"
)

// healthcheckDocument is the XML surface of a config-audit report. The
// modern tool emits HealthcheckRiskRule nodes; old exports carry
// RiskRule nodes with the same shape.
type healthcheckDocument struct {
	XMLName               xml.Name              `xml:"HealthcheckData"`
	DomainFQDN            string                `xml:"DomainFQDN"`
	DomainSID             string                `xml:"DomainSid"`
	GenerationDate        string                `xml:"GenerationDate"`
	DomainFunctionalLevel string                `xml:"DomainFunctionalLevel"`
	ForestFunctionalLevel string                `xml:"ForestFunctionalLevel"`
	MaturityLevel         string                `xml:"MaturityLevel"`
	NumberOfDC            string                `xml:"NumberOfDC"`
	NumberOfUsers         string                `xml:"NumberOfUsers"`
	NumberOfComputers     string                `xml:"NumberOfComputers"`
	RiskRules             []healthcheckRiskRule `xml:"RiskRules>HealthcheckRiskRule"`
	LegacyRules           []healthcheckRiskRule `xml:"RiskRules>RiskRule"`
}

type healthcheckRiskRule struct {
	Points        string `xml:"Points"`
	Category      string `xml:"Category"`
	RiskID        string `xml:"RiskId"`
	Rationale     string `xml:"Rationale"`
	Documentation string `xml:"Documentation"`
}

// ConfigAuditParser ingests config-audit XML exports.
type ConfigAuditParser struct{}

// NewConfigAuditParser creates the config-audit XML parser.
func NewConfigAuditParser() *ConfigAuditParser { return &ConfigAuditParser{} }

func (p *ConfigAuditParser) ToolType() store.ToolType { return store.ToolConfigAudit }

func (p *ConfigAuditParser) SupportedExtensions() []string { return []string{".xml"} }

// CanParse probes for the HealthcheckData root tag.
func (p *ConfigAuditParser) CanParse(_ string, data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<HealthcheckData"))
}

// Parse extracts domain metadata, category scores and one Finding per
// rule node. Malformed integers and dates are fatal.
func (p *ConfigAuditParser) Parse(filename string, data []byte) (*store.Report, error) {
	var doc healthcheckDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed xml: %w", err)
	}
	if strings.TrimSpace(doc.DomainFQDN) == "" {
		return nil, fmt.Errorf("missing DomainFQDN")
	}

	reportDate, err := parseReportDate(doc.GenerationDate)
	if err != nil {
		return nil, err
	}

	report := &store.Report{
		ToolType:   store.ToolConfigAudit,
		Domain:     strings.ToLower(strings.TrimSpace(doc.DomainFQDN)),
		ReportDate: reportDate,
		FilePath:   &filename,
	}
	if sid := strings.TrimSpace(doc.DomainSID); sid != "" {
		report.DomainSID = &sid
	}
	if level := strings.TrimSpace(doc.DomainFunctionalLevel); level != "" {
		report.DomainFunctionalLevel = &level
	}
	if level := strings.TrimSpace(doc.ForestFunctionalLevel); level != "" {
		report.ForestFunctionalLevel = &level
	}

	if report.MaturityLevel, err = optionalInt("MaturityLevel", doc.MaturityLevel); err != nil {
		return nil, err
	}
	if report.DCCount, err = optionalInt("NumberOfDC", doc.NumberOfDC); err != nil {
		return nil, err
	}
	if report.UserCount, err = optionalInt("NumberOfUsers", doc.NumberOfUsers); err != nil {
		return nil, err
	}
	if report.ComputerCount, err = optionalInt("NumberOfComputers", doc.NumberOfComputers); err != nil {
		return nil, err
	}

	rules := doc.RiskRules
	if len(rules) == 0 {
		rules = doc.LegacyRules
	}

	categoryPoints := map[string]int{}
	for _, rule := range rules {
		points, err := strconv.Atoi(strings.TrimSpace(rule.Points))
		if err != nil {
			return nil, fmt.Errorf("rule %s: bad Points %q: %w", rule.RiskID, rule.Points, err)
		}
		category := strings.TrimSpace(rule.Category)
		categoryPoints[category] += points

		report.Findings = append(report.Findings, store.Finding{
			ToolType:       store.ToolConfigAudit,
			Category:       category,
			Name:           strings.TrimSpace(rule.RiskID),
			Score:          float64(points),
			Severity:       store.SeverityForScore(float64(points)),
			Description:    strings.TrimSpace(rule.Rationale),
			Recommendation: strings.TrimSpace(rule.Documentation),
			Status:         store.StatusNew,
		})
	}

	stale := categoryPoints[CategoryStaleObjects]
	privileged := categoryPoints[CategoryPrivilegedAccounts]
	trusts := categoryPoints[CategoryTrusts]
	anomalies := categoryPoints[CategoryAnomalies]
	global := stale + privileged + trusts + anomalies

	report.StaleObjectsScore = &stale
	report.PrivilegedAccountsScore = &privileged
	report.TrustsScore = &trusts
	report.AnomaliesScore = &anomalies
	report.GlobalScore = &global

	return report, nil
}

// reportDateLayouts are tried in order: RFC 3339, ISO 8601 without
// zone, then the tool's legacy space-separated export format.
var reportDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseReportDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing GenerationDate")
	}
	for _, layout := range reportDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad GenerationDate %q", raw)
}

func optionalInt(field, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("bad %s %q: %w", field, raw, err)
	}
	return &value, nil
}
