package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campushq/apply-api/internal/models"
)

func newApplicationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func applicationRow(id string, submissionID int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "program_id", "submission_id", "admin_status", "admin_comment", "created_at", "updated_at"}).
		AddRow(id, "u-alice", "sp-2026", submissionID, 0, "", now, now)
}

func TestSyncBatchInsertsNewApplication(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, program_id, submission_id, admin_status, admin_comment, created_at, updated_at FROM applications WHERE submission_id = $1")).
		WithArgs(int64(9001)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO applications")).
		WithArgs(sqlmock.AnyArg(), "u-alice", "sp-2026", int64(9001), models.AdminStatusUnreviewed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_applications")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42), 1, models.AdmissionUnassigned).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	touched, err := repo.SyncBatch(context.Background(), "sp-2026", []models.ApplicationUpsert{
		{SubmissionID: 9001, UserID: "u-alice", Choices: map[int]int64{1: 42}},
	})
	require.NoError(t, err)
	require.Len(t, touched, 1)
	require.Equal(t, int64(9001), touched[0].SubmissionID)
	require.Equal(t, models.AdminStatusUnreviewed, touched[0].AdminStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncBatchUpdatesExistingBySubmissionID(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM applications WHERE submission_id = $1")).
		WithArgs(int64(9001)).
		WillReturnRows(applicationRow("app-1", 9001))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE applications SET user_id = $2, program_id = $3, updated_at = NOW() WHERE id = $1")).
		WithArgs("app-1", "u-alice", "sp-2026").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	touched, err := repo.SyncBatch(context.Background(), "sp-2026", []models.ApplicationUpsert{
		{SubmissionID: 9001, UserID: "u-alice"},
	})
	require.NoError(t, err)
	require.Len(t, touched, 1)
	require.Equal(t, "app-1", touched[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncBatchRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM applications WHERE submission_id = $1")).
		WithArgs(int64(9001)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO applications")).
		WithArgs(sqlmock.AnyArg(), "u-alice", "sp-2026", int64(9001), models.AdminStatusUnreviewed).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	_, err := repo.SyncBatch(context.Background(), "sp-2026", []models.ApplicationUpsert{
		{SubmissionID: 9001, UserID: "u-alice"},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitDemotesSiblingsInOneTransaction(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT application_id FROM class_applications WHERE id = $1 FOR UPDATE")).
		WithArgs("c2").
		WillReturnRows(sqlmock.NewRows([]string{"application_id"}).AddRow("app-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_applications SET admission_status = $2, updated_at = NOW() WHERE application_id = $1")).
		WithArgs("app-1", models.AdmissionUnassigned).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_applications SET admission_status = $2, updated_at = NOW() WHERE id = $1")).
		WithArgs("c2", models.AdmissionAdmitted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Admit(context.Background(), "c2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitUnknownChoiceRollsBack(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT application_id FROM class_applications WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Admit(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReviewReportsMissingRow(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE applications SET admin_status = $2, admin_comment = $3, updated_at = NOW() WHERE id = $1")).
		WithArgs("missing", models.AdminStatusApproved, "ok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateReview(context.Background(), "missing", models.AdminStatusApproved, "ok")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersByProgramAndStatus(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "program_id", "submission_id", "admin_status", "admin_comment", "created_at", "updated_at", "username", "full_name"}).
		AddRow("app-1", "u-alice", "sp-2026", 9001, 1, "", now, now, "alice", "Alice Lidell")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id, a.user_id, a.program_id, a.submission_id")).
		WithArgs("sp-2026", models.AdminStatusApproved).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("sp-2026", models.AdminStatusApproved).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	status := models.AdminStatusApproved
	applications, total, err := repo.List(context.Background(), models.ApplicationFilter{
		ProgramID:   "sp-2026",
		AdminStatus: &status,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, applications, 1)
	require.Equal(t, "alice", applications[0].Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListForExportFlattensChoices(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	admitted := models.AdmissionAdmitted
	rank := 1
	title := "Intro to Biology"
	rows := sqlmock.NewRows([]string{"username", "full_name", "submission_id", "admin_status", "rank", "subject_title", "admission_status"}).
		AddRow("alice", "Alice Lidell", 9001, 1, rank, title, string(admitted)).
		AddRow("bob", "Bob Tables", 9003, 0, nil, nil, nil)

	mock.ExpectQuery("SELECT u.username, u.full_name, a.submission_id").
		WithArgs("sp-2026").
		WillReturnRows(rows)

	exportRows, err := repo.ListForExport(context.Background(), "sp-2026")
	require.NoError(t, err)
	require.Len(t, exportRows, 2)
	require.NotNil(t, exportRows[0].Rank)
	require.Equal(t, 1, *exportRows[0].Rank)
	require.Nil(t, exportRows[1].SubjectTitle)
	require.NoError(t, mock.ExpectationsWereMet())
}
