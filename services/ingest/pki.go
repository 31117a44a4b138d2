// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kodiaksec/domainwatch/services/store"
)

// PKI finding categories and kinds.
const (
	CategoryCertTemplates   = "Certificate_Templates"
	CategoryCertAuthorities = "Certificate_Authorities"

	KindTemplateOverprivileged = "Template_Overprivileged"
	KindTemplateAllowsSAN      = "Template_Allows_SAN"
	KindTemplateNoApproval     = "Template_No_Approval"
	KindCADangerousPermission  = "CA_Dangerous_Permission"
)

// dangerousRights on a template or CA object let the holder rewrite
// it; combined with a broad principal that is a takeover path.
var dangerousRights = map[string]struct{}{
	"GenericAll":  {},
	"WriteDacl":   {},
	"WriteOwner":  {},
	"FullControl": {},
}

// broadPrincipals cover effectively every authenticated account.
var broadPrincipals = map[string]struct{}{
	"Everyone":            {},
	"Authenticated Users": {},
	"Domain Users":        {},
}

type pkiPermission struct {
	Principal string `json:"principal"`
	Right     string `json:"right"`
}

type pkiTemplate struct {
	Name                    string          `json:"name"`
	EnrolleeSuppliesSubject bool            `json:"enrollee_supplies_subject"`
	RequiresApproval        bool            `json:"requires_approval"`
	Permissions             []pkiPermission `json:"permissions"`
}

type pkiAuthority struct {
	Name        string          `json:"name"`
	Permissions []pkiPermission `json:"permissions"`
}

type pkiFlatFinding struct {
	Category       string  `json:"category"`
	Name           string  `json:"name"`
	Score          float64 `json:"score"`
	Severity       string  `json:"severity"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`
}

type pkiDocument struct {
	Domain                 string           `json:"domain"`
	DomainSID              string           `json:"domain_sid"`
	ReportDate             string           `json:"report_date"`
	CertificateTemplates   []pkiTemplate    `json:"certificate_templates"`
	CertificateAuthorities []pkiAuthority   `json:"certificate_authorities"`
	Findings               []pkiFlatFinding `json:"findings"`
}

// PKIParser ingests ADCS analyzer output, JSON or CSV.
type PKIParser struct{}

// NewPKIParser creates the PKI JSON/CSV parser.
func NewPKIParser() *PKIParser { return &PKIParser{} }

func (p *PKIParser) ToolType() store.ToolType { return store.ToolPKIAudit }

func (p *PKIParser) SupportedExtensions() []string { return []string{".json", ".csv"} }

// CanParse probes JSON payloads for the certificate keys and CSV
// payloads for the finding header row.
func (p *PKIParser) CanParse(filename string, data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return bytes.Contains(head, []byte(`"certificate_templates"`)) ||
			bytes.Contains(head, []byte(`"certificate_authorities"`))
	case ".csv":
		firstLine := head
		if idx := bytes.IndexByte(firstLine, '\n'); idx >= 0 {
			firstLine = firstLine[:idx]
		}
		lower := strings.ToLower(string(firstLine))
		return strings.Contains(lower, "category") && strings.Contains(lower, "name")
	}
	return false
}

func (p *PKIParser) Parse(filename string, data []byte) (*store.Report, error) {
	if strings.ToLower(filepath.Ext(filename)) == ".csv" {
		return p.parseCSV(filename, data)
	}
	return p.parseJSON(filename, data)
}

func (p *PKIParser) parseJSON(filename string, data []byte) (*store.Report, error) {
	var doc pkiDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if strings.TrimSpace(doc.Domain) == "" {
		return nil, fmt.Errorf("missing domain")
	}

	report := &store.Report{
		ToolType: store.ToolPKIAudit,
		Domain:   strings.ToLower(strings.TrimSpace(doc.Domain)),
		FilePath: &filename,
	}
	if raw := strings.TrimSpace(doc.ReportDate); raw != "" {
		parsed, err := parseReportDate(raw)
		if err != nil {
			return nil, err
		}
		report.ReportDate = parsed
	}

	for _, template := range doc.CertificateTemplates {
		report.Findings = append(report.Findings, templateFindings(template)...)
	}
	for _, authority := range doc.CertificateAuthorities {
		report.Findings = append(report.Findings, authorityFindings(authority)...)
	}
	for _, flat := range doc.Findings {
		report.Findings = append(report.Findings, store.Finding{
			ToolType:       store.ToolPKIAudit,
			Category:       flat.Category,
			Name:           flat.Name,
			Score:          flat.Score,
			Severity:       severityOrDerived(flat.Severity, flat.Score),
			Description:    flat.Description,
			Recommendation: flat.Recommendation,
			Status:         store.StatusNew,
		})
	}

	return report, nil
}

// templateFindings applies the overprivilege, SAN and approval
// heuristics to one certificate template.
func templateFindings(template pkiTemplate) []store.Finding {
	var findings []store.Finding

	for _, perm := range template.Permissions {
		if _, dangerous := dangerousRights[perm.Right]; !dangerous {
			continue
		}
		if _, broad := broadPrincipals[perm.Principal]; !broad {
			continue
		}
		findings = append(findings, pkiFinding(CategoryCertTemplates, KindTemplateOverprivileged, 40,
			fmt.Sprintf("template %s grants %s to %s", template.Name, perm.Right, perm.Principal),
			"Restrict template write permissions to PKI administrators",
			template.Name))
	}

	if template.EnrolleeSuppliesSubject {
		findings = append(findings, pkiFinding(CategoryCertTemplates, KindTemplateAllowsSAN, 30,
			fmt.Sprintf("template %s lets the enrollee supply the subject alternative name", template.Name),
			"Disable enrollee-supplied subjects or require manager approval",
			template.Name))
	}

	if !template.RequiresApproval {
		findings = append(findings, pkiFinding(CategoryCertTemplates, KindTemplateNoApproval, 15,
			fmt.Sprintf("template %s issues certificates without manager approval", template.Name),
			"Require manager approval for enrollment",
			template.Name))
	}

	return findings
}

func authorityFindings(authority pkiAuthority) []store.Finding {
	var findings []store.Finding
	for _, perm := range authority.Permissions {
		if _, dangerous := dangerousRights[perm.Right]; !dangerous {
			continue
		}
		if _, broad := broadPrincipals[perm.Principal]; !broad {
			continue
		}
		findings = append(findings, pkiFinding(CategoryCertAuthorities, KindCADangerousPermission, 50,
			fmt.Sprintf("CA %s grants %s to %s", authority.Name, perm.Right, perm.Principal),
			"Restrict CA object permissions to PKI administrators",
			authority.Name))
	}
	return findings
}

func pkiFinding(category, name string, score float64, description, recommendation, object string) store.Finding {
	return store.Finding{
		ToolType:       store.ToolPKIAudit,
		Category:       category,
		Name:           name,
		Score:          score,
		Severity:       store.SeverityForScore(score),
		Description:    description,
		Recommendation: recommendation,
		Status:         store.StatusNew,
		Metadata:       store.Metadata{"object": object},
	}
}

// parseCSV reads row-per-finding exports. Required columns: category,
// name. Optional: score, severity, description, recommendation,
// domain (the first non-empty value wins).
func (p *PKIParser) parseCSV(filename string, data []byte) (*store.Report, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	columns := map[string]int{}
	for i, header := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(header))] = i
	}
	if _, ok := columns["category"]; !ok {
		return nil, fmt.Errorf("csv missing category column")
	}
	if _, ok := columns["name"]; !ok {
		return nil, fmt.Errorf("csv missing name column")
	}

	cell := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	report := &store.Report{ToolType: store.ToolPKIAudit, FilePath: &filename}
	for i, row := range rows[1:] {
		if report.Domain == "" {
			report.Domain = strings.ToLower(cell(row, "domain"))
		}

		score := 0.0
		if raw := cell(row, "score"); raw != "" {
			score, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad score %q: %w", i+2, raw, err)
			}
		}

		report.Findings = append(report.Findings, store.Finding{
			ToolType:       store.ToolPKIAudit,
			Category:       cell(row, "category"),
			Name:           cell(row, "name"),
			Score:          score,
			Severity:       severityOrDerived(cell(row, "severity"), score),
			Description:    cell(row, "description"),
			Recommendation: cell(row, "recommendation"),
			Status:         store.StatusNew,
		})
	}
	if report.Domain == "" {
		return nil, fmt.Errorf("csv missing domain")
	}
	return report, nil
}

func severityOrDerived(raw string, score float64) store.Severity {
	switch store.Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case store.SeverityLow:
		return store.SeverityLow
	case store.SeverityMedium:
		return store.SeverityMedium
	case store.SeverityHigh:
		return store.SeverityHigh
	}
	return store.SeverityForScore(score)
}
