// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodiaksec/domainwatch/pkg/cache"
	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/pkg/metrics"
	"github.com/kodiaksec/domainwatch/services/ingest"
	"github.com/kodiaksec/domainwatch/services/risk"
	"github.com/kodiaksec/domainwatch/services/store"
	"github.com/kodiaksec/domainwatch/services/store/health"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubStore overrides only the methods a test needs. Any other call
// panics on the embedded nil interface, flagging the missing stub.
type stubStore struct {
	store.Store

	getReport         func(ctx context.Context, id uuid.UUID) (*store.Report, error)
	saveReport        func(ctx context.Context, report *store.Report) (uuid.UUID, error)
	upsertMember      func(ctx context.Context, member *store.AcceptedGroupMember) error
	latestAnalysis    func(ctx context.Context, domain string) (*store.Report, error)
	latestConfigScore func(ctx context.Context, domain string) (*int, error)
	setSetting        func(ctx context.Context, key, value string) error
	upsertAgent       func(ctx context.Context, agent *store.Agent) error
	findByStem        func(ctx context.Context, stem string) (*store.Report, error)
	updateHTML        func(ctx context.Context, id uuid.UUID, path string) error
}

func (s *stubStore) GetReport(ctx context.Context, id uuid.UUID) (*store.Report, error) {
	return s.getReport(ctx, id)
}

func (s *stubStore) SaveReport(ctx context.Context, report *store.Report) (uuid.UUID, error) {
	return s.saveReport(ctx, report)
}

func (s *stubStore) UpsertAcceptedGroupMember(ctx context.Context, member *store.AcceptedGroupMember) error {
	return s.upsertMember(ctx, member)
}

func (s *stubStore) LatestDomainAnalysis(ctx context.Context, domain string) (*store.Report, error) {
	return s.latestAnalysis(ctx, domain)
}

func (s *stubStore) LatestConfigAuditScore(ctx context.Context, domain string) (*int, error) {
	return s.latestConfigScore(ctx, domain)
}

func (s *stubStore) SetSetting(ctx context.Context, key, value string) error {
	return s.setSetting(ctx, key, value)
}

func (s *stubStore) UpsertAgent(ctx context.Context, agent *store.Agent) error {
	return s.upsertAgent(ctx, agent)
}

func (s *stubStore) FindReportByFileStem(ctx context.Context, stem string) (*store.Report, error) {
	return s.findByStem(ctx, stem)
}

func (s *stubStore) UpdateReportHTML(ctx context.Context, id uuid.UUID, path string) error {
	return s.updateHTML(ctx, id, path)
}

func newTestDeps(t *testing.T, st store.Store) *Deps {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	return &Deps{
		Store:     st,
		Registry:  ingest.DefaultRegistry(logger),
		Risk:      risk.NewService(st, cache.New(), nil, metrics.NewNop(), logger),
		Cache:     cache.New(),
		Metrics:   metrics.NewNop(),
		Logger:    logger,
		UploadDir: t.TempDir(),
	}
}

func perform(handler gin.HandlerFunc, req *http.Request, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	handler(c)
	return w
}

func jsonRequest(method, target string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestApiError_Taxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"invalid input", store.ErrInvalidInput, http.StatusBadRequest, "INPUT_INVALID"},
		{"conflict", store.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"unavailable", store.ErrUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"unsupported type", ingest.ErrUnsupportedType, http.StatusBadRequest, "UNSUPPORTED_TYPE"},
		{"no parser", ingest.ErrNoParser, http.StatusBadRequest, "NO_PARSER"},
		{"parse failure", &ingest.ParseError{Path: "r.xml", Cause: assert.AnError}, http.StatusUnprocessableEntity, "PARSE_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			apiError(c, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body["kind"])
		})
	}
}

func TestGetReport_InvalidID(t *testing.T) {
	deps := newTestDeps(t, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/nope", nil)
	w := perform(GetReport(deps), req, gin.Param{Key: "id", Value: "nope"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport_NotFound(t *testing.T) {
	st := &stubStore{
		getReport: func(ctx context.Context, id uuid.UUID) (*store.Report, error) {
			return nil, store.ErrNotFound
		},
	}
	deps := newTestDeps(t, st)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/"+id, nil)
	w := perform(GetReport(deps), req, gin.Param{Key: "id", Value: id})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAcceptMember_RecomputeFailureStillSucceeds(t *testing.T) {
	var saved *store.AcceptedGroupMember
	st := &stubStore{
		upsertMember: func(ctx context.Context, member *store.AcceptedGroupMember) error {
			saved = member
			return nil
		},
		latestAnalysis: func(ctx context.Context, domain string) (*store.Report, error) {
			return nil, store.ErrUnavailable
		},
	}
	deps := newTestDeps(t, st)

	req := jsonRequest(http.MethodPost, "/v1/groups/members/accept", map[string]string{
		"domain": "corp.example.com", "group": "Domain Admins", "member": "jsmith",
	})
	w := perform(AcceptMember(deps), req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, saved)
	assert.Equal(t, "Domain Admins", saved.GroupName)

	var result struct {
		Risk struct {
			Status string `json:"risk_calculation_status"`
			Error  string `json:"risk_error"`
		} `json:"risk"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, risk.CalcStatusFailed, result.Risk.Status)
	assert.NotEmpty(t, result.Risk.Error)
}

func TestDenyMember_MissingFields(t *testing.T) {
	deps := newTestDeps(t, &stubStore{})

	req := jsonRequest(http.MethodPost, "/v1/groups/members/deny", map[string]string{"domain": "corp.example.com"})
	w := perform(DenyMember(deps), req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleFileUpload_UnsupportedExtension(t *testing.T) {
	deps := newTestDeps(t, &stubStore{})

	w := perform(HandleFileUpload(deps), multipartUpload(t, "report.pdf", []byte("%PDF")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNSUPPORTED_TYPE")
}

func TestHandleFileUpload_ParseFailure(t *testing.T) {
	deps := newTestDeps(t, &stubStore{})

	w := perform(HandleFileUpload(deps), multipartUpload(t, "audit_corp.xml", []byte("<HealthcheckData><broken")))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "PARSE_FAILED")
}

func TestHandleFileUpload_HTMLWithoutMatchIsRetained(t *testing.T) {
	st := &stubStore{
		findByStem: func(ctx context.Context, stem string) (*store.Report, error) {
			assert.Equal(t, "audit_corp", stem)
			return nil, store.ErrNotFound
		},
	}
	deps := newTestDeps(t, st)

	w := perform(HandleFileUpload(deps), multipartUpload(t, "audit_corp.html", []byte("<html></html>")))

	require.Equal(t, http.StatusAccepted, w.Code)
	var result struct {
		Matched bool `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Matched)
}

func TestHandleFileUpload_HTMLStoreFailureIs503(t *testing.T) {
	st := &stubStore{
		findByStem: func(ctx context.Context, stem string) (*store.Report, error) {
			return nil, store.ErrUnavailable
		},
	}
	deps := newTestDeps(t, st)

	w := perform(HandleFileUpload(deps), multipartUpload(t, "audit_corp.html", []byte("<html></html>")))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "STORAGE_UNAVAILABLE")
}

func TestHandleFileUpload_HTMLAttachesToMatch(t *testing.T) {
	reportID := uuid.New()
	var attachedPath string
	st := &stubStore{
		findByStem: func(ctx context.Context, stem string) (*store.Report, error) {
			return &store.Report{ID: reportID}, nil
		},
		updateHTML: func(ctx context.Context, id uuid.UUID, path string) error {
			assert.Equal(t, reportID, id)
			attachedPath = path
			return nil
		},
	}
	deps := newTestDeps(t, st)

	w := perform(HandleFileUpload(deps), multipartUpload(t, "audit_corp.html", []byte("<html></html>")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, attachedPath)
	assert.Contains(t, w.Body.String(), reportID.String())
}

func TestHandleProgrammaticUpload_Success(t *testing.T) {
	reportID := uuid.New()
	st := &stubStore{
		saveReport: func(ctx context.Context, report *store.Report) (uuid.UUID, error) {
			assert.Equal(t, store.ToolConfigAudit, report.ToolType)
			assert.Equal(t, "corp.example.com", report.Domain)
			return reportID, nil
		},
		latestConfigScore: func(ctx context.Context, domain string) (*int, error) {
			return nil, store.ErrUnavailable
		},
	}
	deps := newTestDeps(t, st)

	req := jsonRequest(http.MethodPost, "/v1/upload/report", map[string]any{
		"domain":    "CORP.example.com",
		"tool_type": "CONFIG_AUDIT",
		"pingcastle_scores": map[string]int{
			"stale_objects": 10, "privileged_accounts": 20, "trusts": 5, "anomalies": 15,
		},
	})
	w := perform(HandleProgrammaticUpload(deps), req)

	require.Equal(t, http.StatusCreated, w.Code)
	var result struct {
		ReportID string `json:"report_id"`
		Risk     struct {
			Status string `json:"risk_calculation_status"`
		} `json:"risk"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, reportID.String(), result.ReportID)
	assert.Equal(t, risk.CalcStatusFailed, result.Risk.Status)
}

func TestHandleProgrammaticUpload_UnknownToolType(t *testing.T) {
	deps := newTestDeps(t, &stubStore{})

	req := jsonRequest(http.MethodPost, "/v1/upload/report", map[string]any{
		"domain": "corp.example.com", "tool_type": "NMAP",
	})
	w := perform(HandleProgrammaticUpload(deps), req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutSettings_UnknownKeyRejected(t *testing.T) {
	st := &stubStore{
		setSetting: func(ctx context.Context, key, value string) error {
			t.Fatalf("unexpected write of %q", key)
			return nil
		},
	}
	deps := newTestDeps(t, st)

	req := jsonRequest(http.MethodPut, "/v1/settings", map[string]string{
		"webhook_url": "https://ntfy.example.com/alerts",
		"favourite":   "blue",
	})
	w := perform(PutSettings(deps), req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutSettings_SavesRecognizedKeys(t *testing.T) {
	written := map[string]string{}
	st := &stubStore{
		setSetting: func(ctx context.Context, key, value string) error {
			written[key] = value
			return nil
		},
	}
	deps := newTestDeps(t, st)

	req := jsonRequest(http.MethodPut, "/v1/settings", map[string]string{
		"webhook_url":    "https://ntfy.example.com/alerts",
		"retention_days": "180",
	})
	w := perform(PutSettings(deps), req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://ntfy.example.com/alerts", written["webhook_url"])
	assert.Equal(t, "180", written["retention_days"])
}

func TestAgentHeartbeat_NormalizesDomain(t *testing.T) {
	var saved *store.Agent
	st := &stubStore{
		upsertAgent: func(ctx context.Context, agent *store.Agent) error {
			saved = agent
			return nil
		},
	}
	deps := newTestDeps(t, st)

	req := jsonRequest(http.MethodPost, "/v1/agents/heartbeat", map[string]string{
		"name": "dc01-collector", "domain": " CORP.Example.COM ", "hostname": "dc01",
	})
	w := perform(AgentHeartbeat(deps), req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, saved)
	assert.Equal(t, "corp.example.com", saved.Domain)
	assert.False(t, saved.LastSeen.IsZero())
}

func healthChecker(t *testing.T) (*health.Checker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.MonitorPingsOption(true),
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	return health.New(sqlx.NewDb(db, "sqlmock"), logging.New(logging.Config{Quiet: true})), mock
}

func namesRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	return rows
}

func expectHealthyProbes(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`information_schema\.tables`).WillReturnRows(namesRows(
		"reports", "findings", "risks", "accepted_risks", "monitored_groups",
		"group_memberships", "accepted_group_members", "group_risk_configs",
		"domain_risk_assessments", "group_risk_assessments", "global_risk_scores",
		"risk_calculation_history", "risk_configuration", "settings", "agents",
		"reports_kpis", "schema_migrations",
	))
	mock.ExpectQuery(`pg_views`).WillReturnRows(namesRows(
		"risk_dashboard_summary", "mv_grouped_findings", "mv_grouped_findings_summary",
		"mv_dashboard_summary", "v_dashboard_composite",
	))
	mock.ExpectQuery(`pg_indexes`).WillReturnRows(namesRows(
		"idx_reports_domain", "idx_findings_report_id", "uq_domain_assessment_day", "uq_global_score_day",
	))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reports`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LEFT JOIN reports`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
}

func TestHealthCheck_UnreachableDatabaseIs503(t *testing.T) {
	checker, mock := healthChecker(t)
	mock.ExpectPing().WillReturnError(assert.AnError)

	deps := newTestDeps(t, &stubStore{})
	deps.Health = checker

	w := perform(HealthCheck(deps), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), string(health.StatusUnhealthy))
}

func TestHealthCheck_MigrationFailureDegrades(t *testing.T) {
	checker, mock := healthChecker(t)
	mock.ExpectPing()
	expectHealthyProbes(mock)

	deps := newTestDeps(t, &stubStore{})
	deps.Health = checker
	deps.MigrationErr = assert.AnError

	w := perform(HealthCheck(deps), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, health.StatusDegraded, report.Status)

	var hasMigrationCheck bool
	for _, check := range report.Checks {
		if check.Name == "migrations" {
			hasMigrationCheck = true
			assert.Equal(t, health.StatusDegraded, check.Status)
		}
	}
	assert.True(t, hasMigrationCheck)
}

func TestRecognizedSettings_CoverStoreKeys(t *testing.T) {
	for _, key := range []string{
		store.SettingWebhookURL, store.SettingAlertMessage,
		store.SettingRetentionDays, store.SettingAutoAcceptLowSeverity,
	} {
		_, ok := recognizedSettings[key]
		assert.True(t, ok, strings.ToUpper(key))
	}
}
