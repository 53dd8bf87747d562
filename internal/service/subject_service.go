package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type subjectCatalogRepository interface {
	FindByID(ctx context.Context, programID string, id int64) (*models.Subject, error)
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
}

// SubjectService reads the per-program class subject catalog.
type SubjectService struct {
	repo   subjectCatalogRepository
	logger *zap.Logger
}

// NewSubjectService constructs a SubjectService.
func NewSubjectService(repo subjectCatalogRepository, logger *zap.Logger) *SubjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{repo: repo, logger: logger}
}

// List returns subjects plus pagination metadata.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return subjects, pagination, nil
}

// Get returns one subject from the program's catalog.
func (s *SubjectService) Get(ctx context.Context, programID string, id int64) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, programID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}
