// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodiaksec/domainwatch/pkg/cache"
	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/services/store"
)

// stubStore implements the store surface the service touches; the
// embedded interface panics on anything unexpected.
type stubStore struct {
	store.Store
	mu sync.Mutex

	analysis    *store.Report
	analysisErr error

	acceptedMembers []store.AcceptedGroupMember
	configs         []store.GroupRiskConfig

	savedAssessment *store.DomainRiskAssessment
	savedGroups     []store.GroupRiskAssessment

	configScore *int
	awareness   *float64
	history     []store.GlobalRiskScore

	savedGlobal    *store.GlobalRiskScore
	historyEntries []store.RiskCalculationHistory
	kpiRefreshes   int
	calls          []string
}

func (s *stubStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubStore) LatestDomainAnalysis(_ context.Context, _ string) (*store.Report, error) {
	s.record("latest_analysis")
	if s.analysisErr != nil {
		return nil, s.analysisErr
	}
	if s.analysis == nil {
		return nil, store.ErrNotFound
	}
	return s.analysis, nil
}

func (s *stubStore) ListAcceptedGroupMembers(_ context.Context, _ string) ([]store.AcceptedGroupMember, error) {
	return s.acceptedMembers, nil
}

func (s *stubStore) ListGroupRiskConfigs(_ context.Context, _ string) ([]store.GroupRiskConfig, error) {
	return s.configs, nil
}

func (s *stubStore) GetDomainRiskAssessment(_ context.Context, _ string, _ time.Time) (*store.DomainRiskAssessment, []store.GroupRiskAssessment, error) {
	s.record("get_assessment")
	if s.savedAssessment == nil {
		return nil, nil, store.ErrNotFound
	}
	return s.savedAssessment, s.savedGroups, nil
}

func (s *stubStore) UpsertDomainRiskAssessment(_ context.Context, assessment *store.DomainRiskAssessment, groups []store.GroupRiskAssessment) error {
	s.record("upsert_assessment")
	if assessment.ID == uuid.Nil {
		assessment.ID = uuid.New()
	}
	s.savedAssessment = assessment
	s.savedGroups = groups
	return nil
}

func (s *stubStore) LatestConfigAuditScore(_ context.Context, _ string) (*int, error) {
	return s.configScore, nil
}

func (s *stubStore) LatestAwarenessScore(_ context.Context, _ string) (*float64, error) {
	return s.awareness, nil
}

func (s *stubStore) GetGlobalRiskHistory(_ context.Context, _ string, _ int, _ bool) ([]store.GlobalRiskScore, error) {
	return s.history, nil
}

func (s *stubStore) UpsertGlobalRiskScore(_ context.Context, score *store.GlobalRiskScore) error {
	s.record("upsert_global")
	s.savedGlobal = score
	return nil
}

func (s *stubStore) AppendRiskHistory(_ context.Context, entry *store.RiskCalculationHistory) error {
	s.record("append_history")
	s.historyEntries = append(s.historyEntries, *entry)
	return nil
}

func (s *stubStore) RefreshReportsKPIs(_ context.Context, _ string) error {
	s.kpiRefreshes++
	return nil
}

func analysisReport(domain string, members map[string][]string) *store.Report {
	report := &store.Report{
		ID:         uuid.New(),
		ToolType:   store.ToolDomainAnalysis,
		Domain:     domain,
		ReportDate: time.Now().UTC(),
	}
	for group, names := range members {
		memberList := make([]any, 0, len(names))
		for _, name := range names {
			memberList = append(memberList, map[string]any{"name": name})
		}
		report.Findings = append(report.Findings, store.Finding{
			ToolType: store.ToolDomainAnalysis,
			Category: "GroupMembers",
			Name:     group,
			Metadata: store.Metadata{"members": memberList},
		})
	}
	return report
}

func newTestService(st *stubStore) (*Service, *cache.Cache) {
	c := cache.New()
	svc := NewService(st, c, DefaultProfiles(), nil, logging.New(logging.Config{Quiet: true}))
	return svc, c
}

func TestRecomputeDomain_ReturnsExistingSameDayRow(t *testing.T) {
	st := &stubStore{
		savedAssessment: &store.DomainRiskAssessment{
			ID: uuid.New(), Domain: "corp.local", DomainGroupScore: 42,
		},
	}
	svc, _ := newTestService(st)

	assessment, _, err := svc.RecomputeDomain(context.Background(), "corp.local", false)
	require.NoError(t, err)
	assert.Equal(t, 42.0, assessment.DomainGroupScore)
	assert.NotContains(t, st.calls, "upsert_assessment")
}

func TestRecomputeDomain_ComputesAndPersists(t *testing.T) {
	st := &stubStore{
		analysis: analysisReport("corp.local", map[string][]string{
			"Domain Admins": {"alice", "bob", "carol", "dave", "eve"},
		}),
	}
	svc, _ := newTestService(st)

	assessment, groups, err := svc.RecomputeDomain(context.Background(), "corp.local", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 5, groups[0].Total)
	assert.Equal(t, 0, groups[0].Accepted)
	assert.Greater(t, assessment.DomainGroupScore, 0.0)
	assert.Equal(t, 1, assessment.TotalGroups)
	assert.Equal(t, 5, assessment.TotalMembers)

	require.Len(t, st.savedGroups, 1)
	assert.Equal(t, "Domain Admins", st.savedGroups[0].GroupName)
	assert.Equal(t, string(LevelCritical), st.savedGroups[0].RiskLevel)
	assert.NotEmpty(t, st.savedGroups[0].Factors)
}

func TestRecomputeDomain_CountsAcceptedMembers(t *testing.T) {
	st := &stubStore{
		analysis: analysisReport("corp.local", map[string][]string{
			"Enterprise Admins": {"alice", "bob"},
		}),
		acceptedMembers: []store.AcceptedGroupMember{
			{Domain: "corp.local", GroupName: "Enterprise Admins", MemberName: "Alice"},
			{Domain: "corp.local", GroupName: "Enterprise Admins", MemberName: "bob"},
		},
	}
	svc, _ := newTestService(st)

	assessment, groups, err := svc.RecomputeDomain(context.Background(), "corp.local", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Accepted, "member matching is case-insensitive")
	assert.Zero(t, groups[0].Score)
	assert.Zero(t, assessment.DomainGroupScore)
}

func TestRecomputeGlobal_MixesSignalsAndCaches(t *testing.T) {
	configScore := 80
	st := &stubStore{
		savedAssessment: &store.DomainRiskAssessment{
			ID: uuid.New(), Domain: "corp.local",
			AssessmentDate: time.Now().UTC(), DomainGroupScore: 60,
		},
		configScore: &configScore,
	}
	svc, _ := newTestService(st)

	global, err := svc.RecomputeGlobal(context.Background(), "corp.local")
	require.NoError(t, err)
	assert.InDelta(t, 74.0, global.GlobalScore, 0.001)
	require.NotNil(t, global.ConfigAuditPct)
	require.NotNil(t, global.DomainGroupPct)
	assert.InDelta(t, 100.0, *global.ConfigAuditPct+*global.DomainGroupPct, 0.1)
	assert.Equal(t, store.TrendStable, global.TrendDirection)
	assert.Equal(t, 1, st.kpiRefreshes)

	upserts := 0
	for _, call := range st.calls {
		if call == "upsert_global" {
			upserts++
		}
	}
	assert.Equal(t, 1, upserts)

	again, err := svc.RecomputeGlobal(context.Background(), "corp.local")
	require.NoError(t, err)
	assert.Same(t, global, again, "second call served from cache")
	for _, call := range st.calls {
		if call == "upsert_global" {
			upserts--
		}
	}
	assert.Zero(t, upserts, "cache hit must not write again")
}

func TestRecomputeGlobal_TrendAgainstHistory(t *testing.T) {
	st := &stubStore{
		savedAssessment: &store.DomainRiskAssessment{
			ID: uuid.New(), Domain: "corp.local",
			AssessmentDate: time.Now().UTC(), DomainGroupScore: 42,
		},
		history: []store.GlobalRiskScore{
			{Domain: "corp.local", GlobalScore: 50},
			{Domain: "corp.local", GlobalScore: 51},
		},
	}
	svc, _ := newTestService(st)

	global, err := svc.RecomputeGlobal(context.Background(), "corp.local")
	require.NoError(t, err)
	assert.InDelta(t, 42.0, global.GlobalScore, 0.001)
	assert.Equal(t, store.TrendImproving, global.TrendDirection)
	assert.InDelta(t, 8.0, global.TrendPercentage, 0.001)
}

func TestOnMemberChange_InvalidatesThenRecomputes(t *testing.T) {
	st := &stubStore{
		analysis: analysisReport("corp.local", map[string][]string{
			"Domain Admins": {"alice", "bob", "carol"},
		}),
	}
	svc, c := newTestService(st)

	stale := &store.GlobalRiskScore{Domain: "corp.local", GlobalScore: 99}
	c.Set(cache.Key(cache.PrefixGlobalRisk, "corp.local"), stale)

	outcome := svc.OnMemberChange(context.Background(), "corp.local", "Domain Admins")
	require.Equal(t, CalcStatusSuccess, outcome.Status)
	require.NotNil(t, outcome.Global)
	assert.NotEqual(t, 99.0, outcome.Global.GlobalScore, "stale cache entry must not be served")

	require.Len(t, st.historyEntries, 1)
	assert.Equal(t, "member_change", st.historyEntries[0].Trigger)
	assert.Equal(t, "Domain Admins", st.historyEntries[0].Payload["group"])
}

func TestOnMemberChange_FailureDoesNotPanic(t *testing.T) {
	st := &stubStore{analysisErr: errors.New("database gone")}
	svc, _ := newTestService(st)

	outcome := svc.OnMemberChange(context.Background(), "corp.local", "Domain Admins")
	assert.Equal(t, CalcStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "database gone")
	assert.Nil(t, outcome.Global)
	assert.Empty(t, st.historyEntries)
}

func TestOnUpload_RecordsHistory(t *testing.T) {
	st := &stubStore{
		analysis: analysisReport("corp.local", map[string][]string{
			"Administrators": {"alice"},
		}),
	}
	svc, _ := newTestService(st)

	outcome := svc.OnUpload(context.Background(), "corp.local", "report-123")
	require.Equal(t, CalcStatusSuccess, outcome.Status)
	require.Len(t, st.historyEntries, 1)
	assert.Equal(t, "upload", st.historyEntries[0].Trigger)
	assert.Equal(t, "report-123", st.historyEntries[0].Payload["report_id"])
}

func TestToggleRoundTrip_ScoreRestored(t *testing.T) {
	members := map[string][]string{"Enterprise Admins": {"alice", "bob"}}
	accepted := []store.AcceptedGroupMember{
		{Domain: "corp.local", GroupName: "Enterprise Admins", MemberName: "alice"},
		{Domain: "corp.local", GroupName: "Enterprise Admins", MemberName: "bob"},
	}

	st := &stubStore{analysis: analysisReport("corp.local", members), acceptedMembers: accepted}
	svc, _ := newTestService(st)
	before, _, err := svc.RecomputeDomain(context.Background(), "corp.local", true)
	require.NoError(t, err)

	// Deny one member, then accept again.
	st.acceptedMembers = accepted[:1]
	_, _, err = svc.RecomputeDomain(context.Background(), "corp.local", true)
	require.NoError(t, err)

	st.acceptedMembers = accepted
	after, _, err := svc.RecomputeDomain(context.Background(), "corp.local", true)
	require.NoError(t, err)

	assert.Equal(t, before.DomainGroupScore, after.DomainGroupScore)
}
