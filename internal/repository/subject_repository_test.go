package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campushq/apply-api/internal/models"
)

func newSubjectRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func subjectRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "program_id", "title", "category", "capacity", "created_at", "updated_at"}).
		AddRow(42, "sp-2026", "Intro to Biology", "science", 30, now, now)
}

func TestSubjectRepositoryFindByIDScopedToProgram(t *testing.T) {
	db, mock, cleanup := newSubjectRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE program_id = $1 AND id = $2")).
		WithArgs("sp-2026", int64(42)).
		WillReturnRows(subjectRows())

	subject, err := repo.FindByID(context.Background(), "sp-2026", 42)
	require.NoError(t, err)
	require.Equal(t, "Intro to Biology", subject.Title)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE program_id = $1 AND id = $2")).
		WithArgs("other", int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByID(context.Background(), "other", 42)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryFindByTitle(t *testing.T) {
	db, mock, cleanup := newSubjectRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE program_id = $1 AND title = $2")).
		WithArgs("sp-2026", "Intro to Biology").
		WillReturnRows(subjectRows())

	matches, err := repo.FindByTitle(context.Background(), "sp-2026", "Intro to Biology")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, int64(42), matches[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryListWithSearch(t *testing.T) {
	db, mock, cleanup := newSubjectRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, program_id, title, category, capacity, created_at, updated_at FROM subjects")).
		WithArgs("sp-2026", "%bio%").
		WillReturnRows(subjectRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subjects")).
		WithArgs("sp-2026", "%bio%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	subjects, total, err := repo.List(context.Background(), models.SubjectFilter{
		ProgramID: "sp-2026",
		Search:    "bio",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, subjects, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
