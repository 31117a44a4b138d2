// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodiaksec/domainwatch/pkg/logging"
)

func testStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock"), logging.New(logging.Config{Quiet: true})), mock
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0, SeverityLow},
		{9.9, SeverityLow},
		{10, SeverityMedium},
		{29.9, SeverityMedium},
		{30, SeverityHigh},
		{100, SeverityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityForScore(tt.score), "score %v", tt.score)
	}
}

func TestEnforceDataSeparation(t *testing.T) {
	makeLoaded := func(toolType ToolType) *Report {
		return &Report{
			ToolType:                toolType,
			Domain:                  "corp.local",
			DomainSID:               strPtr("S-1-5-21-1"),
			DomainFunctionalLevel:   strPtr("2016"),
			ForestFunctionalLevel:   strPtr("2016"),
			MaturityLevel:           intPtr(3),
			DCCount:                 intPtr(4),
			UserCount:               intPtr(1200),
			ComputerCount:           intPtr(900),
			StaleObjectsScore:       intPtr(10),
			PrivilegedAccountsScore: intPtr(20),
			TrustsScore:             intPtr(5),
			AnomaliesScore:          intPtr(15),
			GlobalScore:             intPtr(50),
		}
	}

	t.Run("config audit keeps everything", func(t *testing.T) {
		report := makeLoaded(ToolConfigAudit)
		dropped := enforceDataSeparation(report)
		assert.Empty(t, dropped)
		assert.NotNil(t, report.GlobalScore)
		assert.NotNil(t, report.DCCount)
	})

	t.Run("domain analysis keeps only domain and sid", func(t *testing.T) {
		report := makeLoaded(ToolDomainAnalysis)
		dropped := enforceDataSeparation(report)
		assert.Len(t, dropped, 11)
		assert.NotNil(t, report.DomainSID)
		assert.Nil(t, report.GlobalScore)
		assert.Nil(t, report.DomainFunctionalLevel)
		assert.Nil(t, report.DCCount)
		assert.Nil(t, report.StaleObjectsScore)
	})

	t.Run("pki audit drops sid too", func(t *testing.T) {
		report := makeLoaded(ToolPKIAudit)
		dropped := enforceDataSeparation(report)
		assert.Contains(t, dropped, "domain_sid")
		assert.Nil(t, report.DomainSID)
	})

	t.Run("clean report drops nothing", func(t *testing.T) {
		report := &Report{ToolType: ToolDomainAnalysis, Domain: "corp.local",
			DomainSID: strPtr("S-1-5-21-1")}
		assert.Empty(t, enforceDataSeparation(report))
	})
}

func TestSaveReport_Validation(t *testing.T) {
	p, _ := testStore(t)
	ctx := context.Background()

	_, err := p.SaveReport(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.SaveReport(ctx, &Report{ToolType: "BOGUS", Domain: "corp.local"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.SaveReport(ctx, &Report{ToolType: ToolConfigAudit, Domain: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSaveReport_InsertsReportAndFindings(t *testing.T) {
	p, mock := testStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO findings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO risks")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report := &Report{
		ToolType: ToolConfigAudit,
		Domain:   "corp.local",
		Findings: []Finding{{
			Category: "PrivilegedAccounts",
			Name:     "AdminCount-Orphans",
			Score:    35,
		}},
	}

	id, err := p.SaveReport(context.Background(), report)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id, report.Findings[0].ReportID)
	assert.Equal(t, SeverityHigh, report.Findings[0].Severity)
	assert.Equal(t, StatusNew, report.Findings[0].Status)
	assert.Equal(t, ToolConfigAudit, report.Findings[0].ToolType)
	assert.False(t, report.UploadDate.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReport_RollsBackOnFindingError(t *testing.T) {
	p, mock := testStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO findings")).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	report := &Report{
		ToolType: ToolDomainAnalysis,
		Domain:   "corp.local",
		Findings: []Finding{{Category: "GroupMembers", Name: "Domain Admins"}},
	}
	_, err := p.SaveReport(context.Background(), report)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFindingStatus(t *testing.T) {
	p, mock := testStore(t)
	id := uuid.New()

	t.Run("invalid status rejected", func(t *testing.T) {
		err := p.UpdateFindingStatus(context.Background(), id, "whatever")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("missing finding is not found", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE findings SET status")).
			WithArgs(string(StatusAccepted), id).
			WillReturnResult(sqlmock.NewResult(0, 0))
		err := p.UpdateFindingStatus(context.Background(), id, StatusAccepted)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("updates", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE findings SET status")).
			WithArgs(string(StatusResolved), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, p.UpdateFindingStatus(context.Background(), id, StatusResolved))
	})
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(sql.ErrNoRows), ErrNotFound)

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_domain_assessment_day"}
	err := mapError(pgErr)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "uq_domain_assessment_day")

	other := errors.New("plain")
	assert.Equal(t, other, mapError(other))
}

func acceptedRiskRows(risks ...AcceptedRisk) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "tool_type", "category", "name", "reason", "accepted_by", "accepted_at", "expires_at",
	})
	for _, r := range risks {
		rows.AddRow(r.ID, string(r.ToolType), r.Category, r.Name,
			r.Reason, r.AcceptedBy, r.AcceptedAt, r.ExpiresAt)
	}
	return rows
}

func TestFilterUnacceptedFindings(t *testing.T) {
	findings := []Finding{
		{ToolType: ToolConfigAudit, Category: "Trusts", Name: "SIDHistory"},
		{ToolType: ToolConfigAudit, Category: "Anomalies", Name: "KrbtgtPassword"},
		{ToolType: ToolConfigAudit, Category: "Anomalies", Name: "SMBv1"},
	}

	t.Run("empty input short-circuits", func(t *testing.T) {
		p, mock := testStore(t)
		out, err := p.FilterUnacceptedFindings(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active acceptance suppresses matching kind", func(t *testing.T) {
		p, mock := testStore(t)
		future := time.Now().UTC().Add(24 * time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM accepted_risks")).
			WillReturnRows(acceptedRiskRows(
				AcceptedRisk{ID: uuid.New(), ToolType: ToolConfigAudit,
					Category: "Trusts", Name: "SIDHistory",
					AcceptedAt: time.Now().UTC(), ExpiresAt: &future},
				AcceptedRisk{ID: uuid.New(), ToolType: ToolConfigAudit,
					Category: "Anomalies", Name: "KrbtgtPassword",
					AcceptedAt: time.Now().UTC()},
			))

		out, err := p.FilterUnacceptedFindings(context.Background(), findings)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "SMBv1", out[0].Name)
	})

	t.Run("expired acceptance no longer suppresses", func(t *testing.T) {
		p, mock := testStore(t)
		past := time.Now().UTC().Add(-time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM accepted_risks")).
			WillReturnRows(acceptedRiskRows(
				AcceptedRisk{ID: uuid.New(), ToolType: ToolConfigAudit,
					Category: "Trusts", Name: "SIDHistory",
					AcceptedAt: past.Add(-24 * time.Hour), ExpiresAt: &past},
			))

		out, err := p.FilterUnacceptedFindings(context.Background(), findings)
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})
}

func TestRemoveAcceptedRisk_NotFound(t *testing.T) {
	p, mock := testStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM accepted_risks")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := p.RemoveAcceptedRisk(context.Background(),
		RiskKind{ToolType: ToolConfigAudit, Category: "Trusts", Name: "SIDHistory"})
	assert.ErrorIs(t, err, ErrNotFound)
}
