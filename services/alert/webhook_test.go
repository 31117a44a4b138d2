// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/services/store"
)

func testAlert() Alert {
	return Alert{
		ReportID: "r-123",
		Domain:   "corp.local",
		ToolType: store.ToolConfigAudit,
		Findings: []store.Finding{
			{Category: "Trusts", Name: "SIDHistory", Score: 20, Severity: store.SeverityMedium, ToolType: store.ToolConfigAudit},
			{Category: "Anomalies", Name: "Krbtgt", Score: 40, Severity: store.SeverityHigh, ToolType: store.ToolConfigAudit},
		},
	}
}

func newTestSender() *Sender {
	return NewSender(nil, logging.New(logging.Config{Quiet: true}))
}

func TestSend_NtfyMode(t *testing.T) {
	var gotTitle, gotTags, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	// The mode switch is a substring match on the URL.
	url := server.URL + "/ntfy/alerts"
	err := newTestSender().Send(context.Background(), url, "", testAlert())
	require.NoError(t, err)

	assert.Equal(t, "DomainWatch - 2 unaccepted risk(s)", gotTitle)
	assert.Equal(t, "warning", gotTags)
	assert.Contains(t, gotBody, "corp.local")
	assert.Contains(t, gotBody, "SIDHistory")
	assert.NotContains(t, gotBody, "{findings}")
}

func TestSend_NtfyTestTag(t *testing.T) {
	var gotTags string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTags = r.Header.Get("Tags")
	}))
	defer server.Close()

	alert := testAlert()
	alert.Test = true
	require.NoError(t, newTestSender().Send(context.Background(), server.URL+"/ntfy", "", alert))
	assert.Equal(t, "information", gotTags)
}

func TestSend_JSONMode(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer server.Close()

	err := newTestSender().Send(context.Background(), server.URL+"/hooks/risk", "", testAlert())
	require.NoError(t, err)

	assert.Equal(t, "r-123", payload.ReportID)
	assert.Equal(t, "corp.local", payload.Domain)
	assert.Equal(t, "CONFIG_AUDIT", payload.ToolType)
	require.Len(t, payload.Findings, 2)
	assert.Equal(t, "Trusts", payload.Findings[0].Category)
	assert.Equal(t, "high", payload.Findings[1].Severity)
	assert.Contains(t, payload.Message, "2 unaccepted risk(s)")
}

func TestSend_NonOKIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := newTestSender().Send(context.Background(), server.URL, "", testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSend_EmptyURL(t *testing.T) {
	err := newTestSender().Send(context.Background(), "  ", "", testAlert())
	assert.Error(t, err)
}

func TestRenderMessage(t *testing.T) {
	alert := testAlert()

	t.Run("all placeholders", func(t *testing.T) {
		out := RenderMessage("{report_id}|{domain}|{findings_count}|{tool_type}", alert)
		assert.Equal(t, "r-123|corp.local|2|CONFIG_AUDIT", out)
	})

	t.Run("findings list", func(t *testing.T) {
		out := RenderMessage("{findings}", alert)
		assert.Contains(t, out, "- [medium] Trusts/SIDHistory (20)")
		assert.Contains(t, out, "- [high] Anomalies/Krbtgt (40)")
	})

	t.Run("empty template falls back to default", func(t *testing.T) {
		out := RenderMessage("", alert)
		assert.Contains(t, out, "r-123")
		assert.Contains(t, out, "corp.local")
	})
}
