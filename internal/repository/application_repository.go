package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushq/apply-api/internal/models"
)

// ApplicationRepository persists program applications and their ranked class
// choices.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// List returns applications filtered by the provided criteria.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	base := `FROM applications a
JOIN users u ON u.id = a.user_id`
	var conditions []string
	var args []interface{}

	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("a.program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("a.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.AdminStatus != nil {
		conditions = append(conditions, fmt.Sprintf("a.admin_status = $%d", len(args)+1))
		args = append(args, *filter.AdminStatus)
	}
	if filter.SubjectID != nil {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM class_applications ca WHERE ca.application_id = a.id AND ca.subject_id = $%d)", len(args)+1))
		args = append(args, *filter.SubjectID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "a.created_at",
		"username":   "u.username",
		"status":     "a.admin_status",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "a.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.user_id, a.program_id, a.submission_id, a.admin_status, a.admin_comment, a.created_at, a.updated_at,
        u.username, u.full_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var applications []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &applications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return applications, total, nil
}

// FindByID returns an application with user context.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	const query = `SELECT a.id, a.user_id, a.program_id, a.submission_id, a.admin_status, a.admin_comment, a.created_at, a.updated_at,
        u.username, u.full_name
        FROM applications a
        JOIN users u ON u.id = a.user_id
        WHERE a.id = $1`
	var detail models.ApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// SyncBatch persists one fetch's reconciled submissions as a single atomic
// unit. Applications are upserted on submission id, class choices on
// (application, rank); ranks missing from a record are never deleted. Any
// failure rolls the whole batch back.
func (r *ApplicationRepository) SyncBatch(ctx context.Context, programID string, records []models.ApplicationUpsert) (touched []models.StudentProgramApplication, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sync batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, record := range records {
		var application models.StudentProgramApplication
		application, err = upsertApplication(ctx, tx, programID, record)
		if err != nil {
			return nil, err
		}

		for rank := 1; rank <= 3; rank++ {
			subjectID, ok := record.Choices[rank]
			if !ok {
				continue
			}
			if err = upsertClassApplication(ctx, tx, application.ID, rank, subjectID); err != nil {
				return nil, err
			}
		}

		touched = append(touched, application)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sync batch: %w", err)
	}
	return touched, nil
}

func upsertApplication(ctx context.Context, tx *sqlx.Tx, programID string, record models.ApplicationUpsert) (models.StudentProgramApplication, error) {
	const find = `SELECT id, user_id, program_id, submission_id, admin_status, admin_comment, created_at, updated_at FROM applications WHERE submission_id = $1 LIMIT 1`
	var existing models.StudentProgramApplication
	err := tx.GetContext(ctx, &existing, find, record.SubmissionID)
	switch {
	case err == nil:
		const update = `UPDATE applications SET user_id = $2, program_id = $3, updated_at = NOW() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, existing.ID, record.UserID, programID); err != nil {
			return models.StudentProgramApplication{}, fmt.Errorf("update application for submission %d: %w", record.SubmissionID, err)
		}
		existing.UserID = record.UserID
		existing.ProgramID = programID
		return existing, nil
	case err == sql.ErrNoRows:
		created := models.StudentProgramApplication{
			ID:           uuid.NewString(),
			UserID:       record.UserID,
			ProgramID:    programID,
			SubmissionID: record.SubmissionID,
			AdminStatus:  models.AdminStatusUnreviewed,
		}
		const insert = `INSERT INTO applications (id, user_id, program_id, submission_id, admin_status, admin_comment, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, '', NOW(), NOW())`
		if _, err := tx.ExecContext(ctx, insert, created.ID, created.UserID, created.ProgramID, created.SubmissionID, created.AdminStatus); err != nil {
			return models.StudentProgramApplication{}, fmt.Errorf("insert application for submission %d: %w", record.SubmissionID, err)
		}
		return created, nil
	default:
		return models.StudentProgramApplication{}, fmt.Errorf("find application for submission %d: %w", record.SubmissionID, err)
	}
}

func upsertClassApplication(ctx context.Context, tx *sqlx.Tx, applicationID string, rank int, subjectID int64) error {
	const query = `INSERT INTO class_applications (id, application_id, subject_id, rank, teacher_comment, admission_status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, '', $5, NOW(), NOW())
        ON CONFLICT (application_id, rank) DO UPDATE SET subject_id = EXCLUDED.subject_id, updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, query, uuid.NewString(), applicationID, subjectID, rank, models.AdmissionUnassigned); err != nil {
		return fmt.Errorf("upsert class application rank %d: %w", rank, err)
	}
	return nil
}

// UpdateReview sets the administrative status and comment on an application.
func (r *ApplicationRepository) UpdateReview(ctx context.Context, id string, status models.AdminStatus, comment string) error {
	const query = `UPDATE applications SET admin_status = $2, admin_comment = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, comment)
	if err != nil {
		return fmt.Errorf("update application review: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListChoices returns an application's class choices ordered by rank.
func (r *ApplicationRepository) ListChoices(ctx context.Context, applicationID string) ([]models.ClassApplicationDetail, error) {
	const query = `SELECT ca.id, ca.application_id, ca.subject_id, ca.rank, ca.teacher_rating, ca.teacher_ranking, ca.teacher_comment, ca.admission_status, ca.created_at, ca.updated_at,
        s.title AS subject_title
        FROM class_applications ca
        JOIN subjects s ON s.id = ca.subject_id
        WHERE ca.application_id = $1
        ORDER BY ca.rank ASC`
	var choices []models.ClassApplicationDetail
	if err := r.db.SelectContext(ctx, &choices, query, applicationID); err != nil {
		return nil, fmt.Errorf("list class applications: %w", err)
	}
	return choices, nil
}

// FindClassApplication returns a single class choice by id.
func (r *ApplicationRepository) FindClassApplication(ctx context.Context, id string) (*models.StudentClassApplication, error) {
	const query = `SELECT id, application_id, subject_id, rank, teacher_rating, teacher_ranking, teacher_comment, admission_status, created_at, updated_at FROM class_applications WHERE id = $1 LIMIT 1`
	var choice models.StudentClassApplication
	if err := r.db.GetContext(ctx, &choice, query, id); err != nil {
		return nil, err
	}
	return &choice, nil
}

// Admit marks one class choice admitted and every sibling unassigned, in a
// single transaction so no two siblings are ever observed admitted together.
func (r *ApplicationRepository) Admit(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var applicationID string
	if err = tx.GetContext(ctx, &applicationID, `SELECT application_id FROM class_applications WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("load class application %s: %w", id, err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE class_applications SET admission_status = $2, updated_at = NOW() WHERE application_id = $1`, applicationID, models.AdmissionUnassigned); err != nil {
		return fmt.Errorf("reset sibling admissions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE class_applications SET admission_status = $2, updated_at = NOW() WHERE id = $1`, id, models.AdmissionAdmitted); err != nil {
		return fmt.Errorf("admit class application: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit admit: %w", err)
	}
	return nil
}

// SetAdmissionStatus sets the admission state of one class choice.
func (r *ApplicationRepository) SetAdmissionStatus(ctx context.Context, id string, status models.AdmissionStatus) error {
	const query = `UPDATE class_applications SET admission_status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set admission status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateTeacherFeedback records a teacher's rating, ranking and comment.
func (r *ApplicationRepository) UpdateTeacherFeedback(ctx context.Context, id string, rating, ranking *int, comment string) error {
	const query = `UPDATE class_applications SET teacher_rating = $2, teacher_ranking = $3, teacher_comment = $4, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, rating, ranking, comment)
	if err != nil {
		return fmt.Errorf("update teacher feedback: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListForExport returns flattened application rows for roster exports.
func (r *ApplicationRepository) ListForExport(ctx context.Context, programID string) ([]models.ExportRow, error) {
	const query = `SELECT u.username, u.full_name, a.submission_id, a.admin_status, ca.rank, s.title AS subject_title, ca.admission_status
        FROM applications a
        JOIN users u ON u.id = a.user_id
        LEFT JOIN class_applications ca ON ca.application_id = a.id
        LEFT JOIN subjects s ON s.id = ca.subject_id
        WHERE a.program_id = $1
        ORDER BY u.username ASC, ca.rank ASC`
	var rows []models.ExportRow
	if err := r.db.SelectContext(ctx, &rows, query, programID); err != nil {
		return nil, fmt.Errorf("list applications for export: %w", err)
	}
	return rows, nil
}
