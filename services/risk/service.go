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
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kodiaksec/domainwatch/pkg/cache"
	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/pkg/metrics"
	"github.com/kodiaksec/domainwatch/services/ingest"
	"github.com/kodiaksec/domainwatch/services/store"
)

// Recalculation statuses surfaced alongside primary results. A failed
// recalculation never fails the user action that triggered it.
const (
	CalcStatusSuccess = "success"
	CalcStatusFailed  = "failed"
)

// Outcome reports a recomputation's secondary status to the caller.
type Outcome struct {
	Status string                 `json:"risk_calculation_status"`
	Error  string                 `json:"risk_error,omitempty"`
	Global *store.GlobalRiskScore `json:"global,omitempty"`
}

// Service orchestrates the calculator against the store and cache.
type Service struct {
	store    store.Store
	cache    *cache.Cache
	profiles *Profiles
	metrics  *metrics.Registry
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewService wires the risk integration service.
func NewService(st store.Store, c *cache.Cache, profiles *Profiles, m *metrics.Registry, logger *logging.Logger) *Service {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    st,
		cache:    c,
		profiles: profiles,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("domainwatch/risk"),
	}
}

// RecomputeDomain computes and persists the domain's category scores.
// Without force, an existing same-day assessment is returned as is.
func (s *Service) RecomputeDomain(ctx context.Context, domain string, force bool) (*store.DomainRiskAssessment, []GroupRisk, error) {
	ctx, span := s.tracer.Start(ctx, "risk.RecomputeDomain",
		trace.WithAttributes(attribute.String("domain", domain), attribute.Bool("force", force)))
	defer span.End()

	now := time.Now().UTC()
	if !force {
		existing, _, err := s.store.GetDomainRiskAssessment(ctx, domain, now)
		if err == nil {
			return existing, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}

	start := time.Now()
	groupData, err := s.gatherGroupData(ctx, domain)
	if err != nil {
		return nil, nil, err
	}

	configs, err := s.store.ListGroupRiskConfigs(ctx, domain)
	if err != nil {
		return nil, nil, err
	}
	configByGroup := make(map[string]*store.GroupRiskConfig, len(configs))
	for i := range configs {
		configByGroup[strings.ToLower(configs[i].GroupName)] = &configs[i]
	}

	groupRisks := make([]GroupRisk, 0, len(groupData))
	var totalMembers, totalAccepted int
	for _, data := range groupData {
		profile := ApplyConfig(s.profiles.For(data.GroupName), configByGroup[strings.ToLower(data.GroupName)])
		groupRisks = append(groupRisks, CalculateGroupRisk(data, profile))
		totalMembers += data.Total
		totalAccepted += data.Accepted
	}

	categories := CalculateCategoryScores(groupRisks)
	assessment := &store.DomainRiskAssessment{
		Domain:              domain,
		AssessmentDate:      now,
		AccessGovernance:    categories.AccessGovernance,
		PrivilegeEscalation: categories.PrivilegeEscalation,
		CompliancePosture:   categories.CompliancePosture,
		OperationalRisk:     categories.OperationalRisk,
		DomainGroupScore:    round2(DomainGroupScore(categories)),
		TotalGroups:         len(groupRisks),
		TotalMembers:        totalMembers,
		TotalAccepted:       totalAccepted,
	}

	children := make([]store.GroupRiskAssessment, 0, len(groupRisks))
	for _, g := range groupRisks {
		factors := make(store.Metadata, len(g.Factors))
		for name, value := range g.Factors {
			factors[name] = value
		}
		children = append(children, store.GroupRiskAssessment{
			GroupName:     g.GroupName,
			RiskLevel:     string(g.Profile.Level),
			RiskScore:     g.Score,
			TotalMembers:  g.Total,
			AcceptedCount: g.Accepted,
			Factors:       factors,
		})
	}

	if err := s.store.UpsertDomainRiskAssessment(ctx, assessment, children); err != nil {
		return nil, nil, err
	}

	s.metrics.RecomputationsTotal.WithLabelValues("domain", "success").Inc()
	s.metrics.RecomputeDuration.WithLabelValues("domain").Observe(time.Since(start).Seconds())
	s.logger.Info("domain risk recomputed",
		"domain", domain,
		"groups", len(groupRisks),
		"domain_group_score", assessment.DomainGroupScore,
	)
	return assessment, groupRisks, nil
}

// gatherGroupData projects the latest domain-analysis report into the
// calculator's input, joining accepted members per group. A domain
// with no group data yet yields an empty slice.
func (s *Service) gatherGroupData(ctx context.Context, domain string) ([]GroupData, error) {
	analysis, err := s.store.LatestDomainAnalysis(ctx, domain)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	accepted, err := s.store.ListAcceptedGroupMembers(ctx, domain)
	if err != nil {
		return nil, err
	}
	acceptedSet := make(map[string]map[string]struct{})
	for _, member := range accepted {
		group := strings.ToLower(member.GroupName)
		if acceptedSet[group] == nil {
			acceptedSet[group] = make(map[string]struct{})
		}
		acceptedSet[group][strings.ToLower(member.MemberName)] = struct{}{}
	}

	byGroup := make(map[string]*GroupData)
	var order []string
	for _, membership := range ingest.MembershipsFromReport(analysis) {
		key := strings.ToLower(membership.GroupName)
		data := byGroup[key]
		if data == nil {
			data = &GroupData{GroupName: membership.GroupName}
			byGroup[key] = data
			order = append(order, key)
		}
		data.Total++
		if _, ok := acceptedSet[key][strings.ToLower(membership.MemberName)]; ok {
			data.Accepted++
		}
	}

	groups := make([]GroupData, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byGroup[key])
	}
	return groups, nil
}

// RecomputeGlobal returns the domain's global score, recomputing on
// cache miss and upserting the (domain, day) row.
func (s *Service) RecomputeGlobal(ctx context.Context, domain string) (*store.GlobalRiskScore, error) {
	ctx, span := s.tracer.Start(ctx, "risk.RecomputeGlobal",
		trace.WithAttributes(attribute.String("domain", domain)))
	defer span.End()

	key := cache.Key(cache.PrefixGlobalRisk, domain)
	if cached, ok := s.cacheGet(key); ok {
		if score, ok := cached.(*store.GlobalRiskScore); ok {
			return score, nil
		}
	}

	configScore, err := s.store.LatestConfigAuditScore(ctx, domain)
	if err != nil {
		return nil, err
	}

	assessment, _, err := s.RecomputeDomain(ctx, domain, false)
	if err != nil {
		return nil, err
	}

	awareness, err := s.store.LatestAwarenessScore(ctx, domain)
	if err != nil {
		return nil, err
	}

	input := GlobalInput{DomainGroup: assessment.DomainGroupScore, AwarenessScore: awareness}
	if configScore != nil {
		value := float64(*configScore)
		input.ConfigAudit = &value
	}
	result := CalculateGlobal(input)

	history, err := s.store.GetGlobalRiskHistory(ctx, domain, 30, true)
	if err != nil {
		return nil, err
	}
	var previous *float64
	if len(history) > 0 {
		previous = &history[0].GlobalScore
	}
	direction, percentage := Trend(previous, result.Score)

	score := &store.GlobalRiskScore{
		Domain:           domain,
		AssessmentDate:   assessment.AssessmentDate,
		GlobalScore:      result.Score,
		ConfigAuditScore: input.ConfigAudit,
		DomainGroupScore: assessment.DomainGroupScore,
		AwarenessRisk:    result.AwarenessRisk,
		ConfigAuditPct:   result.ConfigPct,
		DomainGroupPct:   result.DomainGroupPct,
		AwarenessPct:     result.AwarenessPct,
		TrendDirection:   direction,
		TrendPercentage:  percentage,
	}
	if err := s.store.UpsertGlobalRiskScore(ctx, score); err != nil {
		return nil, err
	}
	if err := s.store.RefreshReportsKPIs(ctx, domain); err != nil {
		s.logger.Warn("kpi refresh failed", "domain", domain, "error", err)
	}

	s.cacheSet(key, score)
	return score, nil
}

// OnMemberChange reacts to a member accept/deny toggle: invalidate,
// recompute with force, record history. Failures are folded into the
// outcome so the toggle itself still succeeds.
func (s *Service) OnMemberChange(ctx context.Context, domain, group string) *Outcome {
	ctx, span := s.tracer.Start(ctx, "risk.OnMemberChange",
		trace.WithAttributes(attribute.String("domain", domain), attribute.String("group", group)))
	defer span.End()

	if s.cache != nil {
		s.cache.InvalidateGroup(domain, group)
	}

	assessment, _, err := s.RecomputeDomain(ctx, domain, true)
	if err != nil {
		return s.failedOutcome(domain, group, err)
	}
	global, err := s.RecomputeGlobal(ctx, domain)
	if err != nil {
		return s.failedOutcome(domain, group, err)
	}

	entry := &store.RiskCalculationHistory{
		Domain:  domain,
		Trigger: "member_change",
		Payload: store.Metadata{
			"group":              group,
			"domain_group_score": assessment.DomainGroupScore,
			"global_score":       global.GlobalScore,
		},
	}
	if err := s.store.AppendRiskHistory(ctx, entry); err != nil {
		s.logger.Warn("risk history append failed", "domain", domain, "error", err)
	}

	return &Outcome{Status: CalcStatusSuccess, Global: global}
}

// OnUpload reacts to a committed report upload for a domain. Like
// OnMemberChange, recomputation failures never fail the upload.
func (s *Service) OnUpload(ctx context.Context, domain string, reportID string) *Outcome {
	if s.cache != nil {
		s.cache.InvalidateDomain(domain)
	}
	global, err := s.RecomputeGlobal(ctx, domain)
	if err != nil {
		return s.failedOutcome(domain, "", err)
	}

	entry := &store.RiskCalculationHistory{
		Domain:  domain,
		Trigger: "upload",
		Payload: store.Metadata{
			"report_id":    reportID,
			"global_score": global.GlobalScore,
		},
	}
	if err := s.store.AppendRiskHistory(ctx, entry); err != nil {
		s.logger.Warn("risk history append failed", "domain", domain, "error", err)
	}
	return &Outcome{Status: CalcStatusSuccess, Global: global}
}

func (s *Service) failedOutcome(domain, group string, err error) *Outcome {
	s.logger.Error("risk recalculation failed",
		"domain", domain,
		"group", group,
		"error", err,
	)
	return &Outcome{Status: CalcStatusFailed, Error: err.Error()}
}

// GetBreakdown reads the latest assessment artifacts, cached.
func (s *Service) GetBreakdown(ctx context.Context, domain string) (*store.RiskBreakdown, error) {
	key := cache.Key(cache.PrefixRiskBreakdown, domain)
	if cached, ok := s.cacheGet(key); ok {
		if breakdown, ok := cached.(*store.RiskBreakdown); ok {
			return breakdown, nil
		}
	}
	breakdown, err := s.store.GetRiskBreakdown(ctx, domain)
	if err != nil {
		return nil, err
	}
	s.cacheSet(key, breakdown)
	return breakdown, nil
}

// GetHistory reads up to days of global-score history, cached per
// (domain, days).
func (s *Service) GetHistory(ctx context.Context, domain string, days int) ([]GlobalRiskScorePoint, error) {
	if days <= 0 {
		days = 30
	}
	key := cache.Key(cache.PrefixRiskHistory, domain, strconv.Itoa(days))
	if cached, ok := s.cacheGet(key); ok {
		if history, ok := cached.([]GlobalRiskScorePoint); ok {
			return history, nil
		}
	}

	rows, err := s.store.GetGlobalRiskHistory(ctx, domain, days, false)
	if err != nil {
		return nil, err
	}
	history := make([]GlobalRiskScorePoint, 0, len(rows))
	for _, row := range rows {
		history = append(history, GlobalRiskScorePoint{
			Date:            row.AssessmentDate,
			GlobalScore:     row.GlobalScore,
			TrendDirection:  row.TrendDirection,
			TrendPercentage: row.TrendPercentage,
		})
	}
	s.cacheSet(key, history)
	return history, nil
}

// GlobalRiskScorePoint is one history sample for trend charts.
type GlobalRiskScorePoint struct {
	Date            time.Time            `json:"date"`
	GlobalScore     float64              `json:"global_score"`
	TrendDirection  store.TrendDirection `json:"trend_direction"`
	TrendPercentage float64              `json:"trend_percentage"`
}

// CompareDomains lists the latest global per domain. Uncached; the
// listing spans domains and would dodge domain-keyed invalidation.
func (s *Service) CompareDomains(ctx context.Context) ([]store.DomainComparison, error) {
	return s.store.CompareDomains(ctx)
}

func (s *Service) cacheGet(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	value, ok := s.cache.Get(key)
	if ok {
		s.metrics.CacheHitsTotal.Inc()
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}
	return value, ok
}

func (s *Service) cacheSet(key string, value any) {
	if s.cache != nil {
		s.cache.Set(key, value)
	}
}
