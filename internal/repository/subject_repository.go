package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/campushq/apply-api/internal/models"
)

// SubjectRepository reads the per-program class subject catalog.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs the repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// FindByID returns the subject with the given numeric id, scoped to the
// program's catalog.
func (r *SubjectRepository) FindByID(ctx context.Context, programID string, id int64) (*models.Subject, error) {
	const query = `SELECT id, program_id, title, category, capacity, created_at, updated_at FROM subjects WHERE program_id = $1 AND id = $2 LIMIT 1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, programID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subject by id: %w", err)
	}
	return &subject, nil
}

// FindByTitle returns subjects whose title matches exactly, scoped to the
// program's catalog. More than one match is possible; callers take the first.
func (r *SubjectRepository) FindByTitle(ctx context.Context, programID, title string) ([]models.Subject, error) {
	const query = `SELECT id, program_id, title, category, capacity, created_at, updated_at FROM subjects WHERE program_id = $1 AND title = $2 ORDER BY id ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, programID, title); err != nil {
		return nil, fmt.Errorf("find subjects by title: %w", err)
	}
	return subjects, nil
}

// List returns subjects filtered by the provided criteria.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	base := `FROM subjects WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf(`SELECT id, program_id, title, category, capacity, created_at, updated_at %s ORDER BY title ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}
	return subjects, total, nil
}
