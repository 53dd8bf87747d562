package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campushq/apply-api/internal/models"
)

func newExportJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestExportJobRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO export_jobs")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "QUEUED", nil, "u-admin", sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.ExportJob{
		Params:    models.ExportJobParams{ProgramID: "sp-2026", Format: models.ExportFormatCSV},
		CreatedBy: "u-admin",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)
	require.Equal(t, models.ExportStatusQueued, job.Status)

	rows := sqlmock.NewRows([]string{"id", "params", "status", "result_url", "created_by", "created_at", "finished_at", "error_message"}).
		AddRow(job.ID, `{"programId":"sp-2026","format":"csv"}`, "QUEUED", nil, "u-admin", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM export_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, "sp-2026", fetched.Params.ProgramID)
	require.Equal(t, models.ExportFormatCSV, fetched.Params.Format)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryUpdateBuildsPartialSet(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	status := models.ExportStatusFinished
	url := "/api/v1/exports/token"
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = $1, result_url = $2, finished_at = $3 WHERE id = $4")).
		WithArgs(status, url, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateExportJobParams{
		Status:     &status,
		ResultURL:  &url,
		FinishedAt: &now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryUpdateNoFieldsIsNoop(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateExportJobParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	rows := sqlmock.NewRows([]string{"id", "params", "status", "result_url", "created_by", "created_at", "finished_at", "error_message"}).
		AddRow("job-1", `{"programId":"sp-2026","format":"pdf"}`, "QUEUED", nil, "u-admin", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM export_jobs WHERE status = 'QUEUED'")).
		WithArgs(20).
		WillReturnRows(rows)

	queued, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, models.ExportFormatPDF, queued[0].Params.Format)
	require.NoError(t, mock.ExpectationsWereMet())
}
