// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alert delivers webhook notifications about unaccepted
// findings. Delivery is best-effort: failures are logged and counted,
// never propagated to the action that triggered the alert.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/pkg/metrics"
	"github.com/kodiaksec/domainwatch/services/store"
)

// DefaultTimeout bounds one webhook delivery. The sender must never
// hold a database transaction open while delivering.
const DefaultTimeout = 10 * time.Second

// DefaultMessage is the alert template used when the alert_message
// setting is empty.
const DefaultMessage = "Report {report_id} for {domain} ({tool_type}) has {findings_count} unaccepted risk(s):\n{findings}"

const product = "DomainWatch"

// Alert is one notification about a report's unaccepted findings.
type Alert struct {
	ReportID string
	Domain   string
	ToolType store.ToolType
	Findings []store.Finding
	Test     bool
}

// webhookFinding is the JSON-mode finding shape.
type webhookFinding struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Severity string  `json:"severity"`
	ToolType string  `json:"tool_type"`
}

type webhookPayload struct {
	Message  string           `json:"message"`
	ReportID string           `json:"report_id"`
	ToolType string           `json:"tool_type"`
	Domain   string           `json:"domain"`
	Findings []webhookFinding `json:"findings"`
}

// Sender posts alerts to one destination URL. Payload mode is decided
// by substring match on the URL: ntfy destinations get a plain-text
// body with Title and Tags headers, everything else gets JSON.
type Sender struct {
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Registry
	logger  *logging.Logger
}

// NewSender creates a Sender. Deliveries are rate limited to one per
// second with small bursts so a bulk upload cannot flood the receiver.
func NewSender(m *metrics.Registry, logger *logging.Logger) *Sender {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		metrics: m,
		logger:  logger,
	}
}

// Send delivers one alert to url, rendering template (empty means
// DefaultMessage). Any non-200 response or transport error is logged
// and returned; callers treat it as a secondary outcome.
func (s *Sender) Send(ctx context.Context, url, template string, alert Alert) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("no webhook url configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	message := RenderMessage(template, alert)

	var (
		req *http.Request
		err error
	)
	if strings.Contains(url, "ntfy") {
		req, err = s.ntfyRequest(ctx, url, message, alert)
	} else {
		req, err = s.jsonRequest(ctx, url, message, alert)
	}
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.WebhookSendsTotal.WithLabelValues("error").Inc()
		s.logger.Error("webhook delivery failed", "url", url, "error", err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		s.metrics.WebhookSendsTotal.WithLabelValues("rejected").Inc()
		s.logger.Error("webhook rejected", "url", url, "status", resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.metrics.WebhookSendsTotal.WithLabelValues("success").Inc()
	s.logger.Info("webhook delivered",
		"domain", alert.Domain,
		"findings", len(alert.Findings),
		"test", alert.Test,
	)
	return nil
}

func (s *Sender) ntfyRequest(ctx context.Context, url, message string, alert Alert) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Title", fmt.Sprintf("%s - %d unaccepted risk(s)", product, len(alert.Findings)))
	if alert.Test {
		req.Header.Set("Tags", "information")
	} else {
		req.Header.Set("Tags", "warning")
	}
	return req, nil
}

func (s *Sender) jsonRequest(ctx context.Context, url, message string, alert Alert) (*http.Request, error) {
	findings := make([]webhookFinding, 0, len(alert.Findings))
	for _, finding := range alert.Findings {
		findings = append(findings, webhookFinding{
			Category: finding.Category,
			Name:     finding.Name,
			Score:    finding.Score,
			Severity: string(finding.Severity),
			ToolType: string(finding.ToolType),
		})
	}
	body, err := json.Marshal(webhookPayload{
		Message:  message,
		ReportID: alert.ReportID,
		ToolType: string(alert.ToolType),
		Domain:   alert.Domain,
		Findings: findings,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// RenderMessage substitutes the named placeholders into the template.
func RenderMessage(template string, alert Alert) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultMessage
	}

	lines := make([]string, 0, len(alert.Findings))
	for _, finding := range alert.Findings {
		lines = append(lines, fmt.Sprintf("- [%s] %s/%s (%.0f)",
			finding.Severity, finding.Category, finding.Name, finding.Score))
	}

	replacer := strings.NewReplacer(
		"{report_id}", alert.ReportID,
		"{domain}", alert.Domain,
		"{findings_count}", strconv.Itoa(len(alert.Findings)),
		"{findings}", strings.Join(lines, "\n"),
		"{tool_type}", string(alert.ToolType),
	)
	return replacer.Replace(template)
}
