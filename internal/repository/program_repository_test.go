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

func newProgramRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestProgramRepositoryGetSettings(t *testing.T) {
	db, mock, cleanup := newProgramRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	rows := sqlmock.NewRows([]string{"program_id", "form_id", "api_key", "username_field_id", "coreclass1_field_id", "coreclass2_field_id", "coreclass3_field_id", "teacher_view_template", "updated_at"}).
		AddRow("sp-2026", 555, "key-1", 100, 201, nil, nil, "", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM application_settings WHERE program_id = $1")).
		WithArgs("sp-2026").
		WillReturnRows(rows)

	settings, err := repo.GetSettings(context.Background(), "sp-2026")
	require.NoError(t, err)
	require.NotNil(t, settings.FormID)
	require.Equal(t, int64(555), *settings.FormID)
	require.Nil(t, settings.CoreClass2FieldID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramRepositoryGetSettingsMissing(t *testing.T) {
	db, mock, cleanup := newProgramRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM application_settings WHERE program_id = $1")).
		WithArgs("sp-2026").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetSettings(context.Background(), "sp-2026")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramRepositoryUpsertSettings(t *testing.T) {
	db, mock, cleanup := newProgramRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	formID := int64(555)
	usernameField := int64(100)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO application_settings")).
		WithArgs("sp-2026", formID, "key-1", usernameField, nil, nil, nil, "Hello {{.F100}}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSettings(context.Background(), &models.ApplicationSettings{
		ProgramID:           "sp-2026",
		FormID:              &formID,
		APIKey:              "key-1",
		UsernameFieldID:     &usernameField,
		TeacherViewTemplate: "Hello {{.F100}}",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramRepositoryListProgramIDsByFormID(t *testing.T) {
	db, mock, cleanup := newProgramRepoMock(t)
	defer cleanup()
	repo := NewProgramRepository(db)

	rows := sqlmock.NewRows([]string{"program_id"}).AddRow("sp-2026").AddRow("su-2026")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT program_id FROM application_settings WHERE form_id = $1")).
		WithArgs(int64(555)).
		WillReturnRows(rows)

	ids, err := repo.ListProgramIDsByFormID(context.Background(), 555)
	require.NoError(t, err)
	require.Equal(t, []string{"sp-2026", "su-2026"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
