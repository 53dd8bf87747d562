package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campushq/apply-api/internal/models"
)

// ProgramRepository reads programs and their application settings.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// FindByID returns a program by identifier.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	const query = `SELECT id, name, year, active, created_at, updated_at FROM programs WHERE id = $1 LIMIT 1`
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find program by id: %w", err)
	}
	return &program, nil
}

// ListActive returns every active program. The sync engine iterates these on
// read-triggered synchronization.
func (r *ProgramRepository) ListActive(ctx context.Context) ([]models.Program, error) {
	const query = `SELECT id, name, year, active, created_at, updated_at FROM programs WHERE active = TRUE ORDER BY year DESC, name ASC`
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query); err != nil {
		return nil, fmt.Errorf("list active programs: %w", err)
	}
	return programs, nil
}

// GetSettings returns the application settings for a program, or sql.ErrNoRows
// when the program has never been configured.
func (r *ProgramRepository) GetSettings(ctx context.Context, programID string) (*models.ApplicationSettings, error) {
	const query = `SELECT program_id, form_id, api_key, username_field_id, coreclass1_field_id, coreclass2_field_id, coreclass3_field_id, teacher_view_template, updated_at
        FROM application_settings WHERE program_id = $1 LIMIT 1`
	var settings models.ApplicationSettings
	if err := r.db.GetContext(ctx, &settings, query, programID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get application settings: %w", err)
	}
	return &settings, nil
}

// UpsertSettings writes the application settings for a program.
func (r *ProgramRepository) UpsertSettings(ctx context.Context, settings *models.ApplicationSettings) error {
	const query = `INSERT INTO application_settings (program_id, form_id, api_key, username_field_id, coreclass1_field_id, coreclass2_field_id, coreclass3_field_id, teacher_view_template, updated_at)
        VALUES (:program_id, :form_id, :api_key, :username_field_id, :coreclass1_field_id, :coreclass2_field_id, :coreclass3_field_id, :teacher_view_template, NOW())
        ON CONFLICT (program_id) DO UPDATE SET
            form_id = EXCLUDED.form_id,
            api_key = EXCLUDED.api_key,
            username_field_id = EXCLUDED.username_field_id,
            coreclass1_field_id = EXCLUDED.coreclass1_field_id,
            coreclass2_field_id = EXCLUDED.coreclass2_field_id,
            coreclass3_field_id = EXCLUDED.coreclass3_field_id,
            teacher_view_template = EXCLUDED.teacher_view_template,
            updated_at = NOW()`
	if _, err := r.db.NamedExecContext(ctx, query, settings); err != nil {
		return fmt.Errorf("upsert application settings: %w", err)
	}
	return nil
}

// ListProgramIDsByFormID maps an external form back to the programs configured
// with it. Cache invalidation uses this to translate upstream change signals.
func (r *ProgramRepository) ListProgramIDsByFormID(ctx context.Context, formID int64) ([]string, error) {
	const query = `SELECT program_id FROM application_settings WHERE form_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, formID); err != nil {
		return nil, fmt.Errorf("list programs by form id: %w", err)
	}
	return ids, nil
}
