// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertDomainRiskAssessment_WritesRowAndChildren(t *testing.T) {
	st, mock := testStore(t)

	persistedID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO domain_risk_assessments`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(persistedID.String()))
	mock.ExpectExec(`DELETE FROM group_risk_assessments WHERE assessment_id`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO group_risk_assessments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO group_risk_assessments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assessment := &DomainRiskAssessment{
		Domain:           "corp.local",
		DomainGroupScore: 42.5,
	}
	groups := []GroupRiskAssessment{
		{GroupName: "Domain Admins", RiskLevel: "CRITICAL", RiskScore: 90},
		{GroupName: "Backup Operators", RiskLevel: "MEDIUM", RiskScore: 12},
	}

	err := st.UpsertDomainRiskAssessment(context.Background(), assessment, groups)
	require.NoError(t, err)

	assert.Equal(t, persistedID, assessment.ID)
	for _, group := range groups {
		assert.Equal(t, persistedID, group.AssessmentID, group.GroupName)
		assert.NotEqual(t, uuid.Nil, group.ID, group.GroupName)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainRiskAssessment_RollsBackOnChildError(t *testing.T) {
	st, mock := testStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO domain_risk_assessments`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec(`DELETE FROM group_risk_assessments WHERE assessment_id`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO group_risk_assessments`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assessment := &DomainRiskAssessment{Domain: "corp.local"}
	groups := []GroupRiskAssessment{{GroupName: "Domain Admins", RiskLevel: "CRITICAL"}}

	err := st.UpsertDomainRiskAssessment(context.Background(), assessment, groups)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainRiskAssessment_RejectsIncompleteInput(t *testing.T) {
	st, _ := testStore(t)

	err := st.UpsertDomainRiskAssessment(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = st.UpsertDomainRiskAssessment(context.Background(), &DomainRiskAssessment{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
