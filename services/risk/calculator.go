// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package risk computes the composite risk model: per-group risk,
// category scores, the domain-group composite and the weighted global
// score. Calculation functions are pure; orchestration against the
// store and cache lives in Service.
package risk

import (
	"math"

	"github.com/kodiaksec/domainwatch/services/store"
)

// GroupData is the calculator's input for one group.
type GroupData struct {
	GroupName string
	Total     int
	Accepted  int
}

// GroupRisk is the scored result for one group.
type GroupRisk struct {
	GroupName  string
	Profile    Profile
	Total      int
	Accepted   int
	Unaccepted int
	Score      float64

	// Factors break the score down for operators.
	Factors map[string]float64
}

const zeroAcceptancePenalty = 25.0

// CalculateGroupRisk scores one group against its profile.
func CalculateGroupRisk(data GroupData, profile Profile) GroupRisk {
	unaccepted := data.Total - data.Accepted
	if unaccepted < 0 {
		unaccepted = 0
	}

	var ratioPts float64
	if data.Total > 0 {
		ratioPts = float64(unaccepted) / float64(data.Total) * 100
	}

	var excessPts float64
	if excess := unaccepted - profile.MaxAcceptable; excess > 0 {
		excessPts = math.Min(float64(excess)*10, 50)
	}

	var penalty float64
	if profile.Level == LevelCritical && data.Accepted == 0 && data.Total > 0 {
		penalty = zeroAcceptancePenalty
	}

	raw := (ratioPts + excessPts + penalty) * profile.EscalationMult
	score := math.Min(raw, 100)

	return GroupRisk{
		GroupName:  data.GroupName,
		Profile:    profile,
		Total:      data.Total,
		Accepted:   data.Accepted,
		Unaccepted: unaccepted,
		Score:      score,
		Factors: map[string]float64{
			"unaccepted_ratio_pts":    ratioPts,
			"excess_pts":              excessPts,
			"zero_acceptance_penalty": penalty,
			"escalation_multiplier":   profile.EscalationMult,
			"raw_score":               raw,
		},
	}
}

// CategoryScores are the four partial scores over a domain's groups,
// each in [0, 100].
type CategoryScores struct {
	AccessGovernance    float64
	PrivilegeEscalation float64
	CompliancePosture   float64
	OperationalRisk     float64
}

// CalculateCategoryScores aggregates per-group results into the four
// category scores.
func CalculateCategoryScores(groups []GroupRisk) CategoryScores {
	if len(groups) == 0 {
		return CategoryScores{}
	}

	var (
		weightSum     float64
		weightedRatio float64

		escalationSum   float64
		escalationCount int

		totalMembers    int
		totalUnaccepted int
		zeroAcceptance  int

		mixed     int
		oversized int
		unmanaged int
	)

	for _, g := range groups {
		var ratio float64
		if g.Total > 0 {
			ratio = float64(g.Unaccepted) / float64(g.Total)
		}
		weightSum += g.Profile.BaseWeight
		weightedRatio += g.Profile.BaseWeight * ratio

		switch g.Profile.Level {
		case LevelCritical:
			escalationSum += g.Score * 1.5
			escalationCount++
		case LevelHigh:
			escalationSum += g.Score
			escalationCount++
		}

		totalMembers += g.Total
		totalUnaccepted += g.Unaccepted
		if g.Total > 0 && g.Accepted == 0 {
			zeroAcceptance++
			unmanaged++
		}
		if g.Accepted > 0 && g.Unaccepted > 0 {
			mixed++
		}
		if g.Total > 2*g.Profile.MaxAcceptable {
			oversized++
		}
	}

	var access float64
	if weightSum > 0 {
		access = weightedRatio / weightSum * 100
	}

	var escalation float64
	if escalationCount > 0 {
		escalation = escalationSum / float64(escalationCount)
	}

	var compliance float64
	if totalMembers > 0 {
		compliance = float64(totalUnaccepted) / float64(totalMembers) * 100
	}
	compliance += 10 * float64(zeroAcceptance)

	groupCount := float64(len(groups))
	operational := clamp(float64(mixed)/groupCount*50, 50) +
		clamp(float64(oversized)/groupCount*30, 30) +
		clamp(float64(unmanaged)/groupCount*40, 40)

	return CategoryScores{
		AccessGovernance:    clamp(access, 100),
		PrivilegeEscalation: clamp(escalation, 100),
		CompliancePosture:   clamp(compliance, 100),
		OperationalRisk:     clamp(operational, 100),
	}
}

// DomainGroupScore combines the four categories into the domain-group
// composite.
func DomainGroupScore(c CategoryScores) float64 {
	return 0.3*c.AccessGovernance +
		0.4*c.PrivilegeEscalation +
		0.2*c.CompliancePosture +
		0.1*c.OperationalRisk
}

// GlobalInput carries the up-to-three signals for the global mix. The
// awareness signal arrives as a positive 0..100 score and is converted
// to risk internally.
type GlobalInput struct {
	ConfigAudit      *float64
	DomainGroup      float64
	AwarenessScore   *float64
}

// GlobalResult is the mixed global score with per-signal contribution
// percentages. A nil percentage means the signal was absent.
type GlobalResult struct {
	Score          float64
	AwarenessRisk  *float64
	ConfigPct      *float64
	DomainGroupPct *float64
	AwarenessPct   *float64
}

// globalWeights returns the availability-dependent signal weights.
func globalWeights(hasConfig, hasAwareness bool) (wc, wd, wh float64) {
	switch {
	case hasConfig && hasAwareness:
		return 0.55, 0.30, 0.15
	case hasConfig:
		return 0.70, 0.30, 0.00
	case hasAwareness:
		return 0.00, 0.65, 0.35
	default:
		return 0.00, 1.00, 0.00
	}
}

// CalculateGlobal mixes the available signals with availability-
// dependent weights. The score rounds to two decimals; contribution
// percentages to one, and sum to 100 for the present signals.
func CalculateGlobal(in GlobalInput) GlobalResult {
	var awarenessRisk *float64
	if in.AwarenessScore != nil {
		risk := 100 - *in.AwarenessScore
		awarenessRisk = &risk
	}

	wc, wd, wh := globalWeights(in.ConfigAudit != nil, awarenessRisk != nil)

	var configPart float64
	if in.ConfigAudit != nil {
		configPart = *in.ConfigAudit * wc
	}
	domainPart := in.DomainGroup * wd
	var awarenessPart float64
	if awarenessRisk != nil {
		awarenessPart = *awarenessRisk * wh
	}

	global := round2(configPart + domainPart + awarenessPart)

	// Contribution percent for a present signal: its absolute share of
	// the total. A zero total falls back to the weights so the present
	// percentages still sum to 100.
	pct := func(part, weight float64) float64 {
		if global > 0 {
			return round1(part / global * 100)
		}
		return round1(weight * 100)
	}

	result := GlobalResult{Score: global, AwarenessRisk: awarenessRisk}
	domainPct := pct(domainPart, wd)
	result.DomainGroupPct = &domainPct
	if in.ConfigAudit != nil {
		configPct := pct(configPart, wc)
		result.ConfigPct = &configPct
	}
	if awarenessRisk != nil {
		awarenessPct := pct(awarenessPart, wh)
		result.AwarenessPct = &awarenessPct
	}
	return result
}

// trendThreshold is the band within which a change counts as stable.
const trendThreshold = 5.0

// Trend classifies the new global against the preceding historical
// point. With no history the trend is stable at 0.
func Trend(previous *float64, current float64) (store.TrendDirection, float64) {
	if previous == nil {
		return store.TrendStable, 0
	}
	delta := current - *previous
	switch {
	case delta > trendThreshold:
		return store.TrendDegrading, round2(math.Abs(delta))
	case delta < -trendThreshold:
		return store.TrendImproving, round2(math.Abs(delta))
	default:
		return store.TrendStable, round2(math.Abs(delta))
	}
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
