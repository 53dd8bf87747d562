package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type admissionRepository interface {
	FindClassApplication(ctx context.Context, id string) (*models.StudentClassApplication, error)
	Admit(ctx context.Context, id string) error
	SetAdmissionStatus(ctx context.Context, id string, status models.AdmissionStatus) error
	UpdateTeacherFeedback(ctx context.Context, id string, rating, ranking *int, comment string) error
	UpdateReview(ctx context.Context, id string, status models.AdminStatus, comment string) error
	FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
}

// ReviewApplicationRequest sets the administrative verdict on an application.
type ReviewApplicationRequest struct {
	AdminStatus  models.AdminStatus `json:"admin_status" validate:"oneof=0 1 3"`
	AdminComment string             `json:"admin_comment"`
}

// TeacherFeedbackRequest records a teacher's evaluation of one class choice.
type TeacherFeedbackRequest struct {
	Rating  *int   `json:"rating" validate:"omitempty,min=1,max=10"`
	Ranking *int   `json:"ranking" validate:"omitempty,min=1"`
	Comment string `json:"comment"`
}

// AdmissionService drives the staff-facing admission lifecycle: per-class
// admit/unadmit/waitlist transitions plus administrative review. Admission
// state is independent of submission sync.
type AdmissionService struct {
	repo      admissionRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(repo admissionRepository, validate *validator.Validate, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{repo: repo, validator: validate, logger: logger}
}

// Admit marks the class choice admitted, demoting any admitted sibling to
// unassigned in the same transaction. Admitting an already-admitted choice is
// a no-op with the same outcome.
func (s *AdmissionService) Admit(ctx context.Context, id string) (*models.StudentClassApplication, error) {
	if err := s.repo.Admit(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to admit class application")
	}
	return s.reload(ctx, id)
}

// Unadmit returns the class choice to the unassigned state.
func (s *AdmissionService) Unadmit(ctx context.Context, id string) (*models.StudentClassApplication, error) {
	return s.transition(ctx, id, models.AdmissionUnassigned)
}

// Waitlist places the class choice on the waitlist.
func (s *AdmissionService) Waitlist(ctx context.Context, id string) (*models.StudentClassApplication, error) {
	return s.transition(ctx, id, models.AdmissionWaitlisted)
}

func (s *AdmissionService) transition(ctx context.Context, id string, status models.AdmissionStatus) (*models.StudentClassApplication, error) {
	if err := s.repo.SetAdmissionStatus(ctx, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update admission status")
	}
	return s.reload(ctx, id)
}

// Review sets the administrative status and comment on an application.
func (s *AdmissionService) Review(ctx context.Context, applicationID string, req ReviewApplicationRequest) (*models.ApplicationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if err := s.repo.UpdateReview(ctx, applicationID, req.AdminStatus, req.AdminComment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update review")
	}
	detail, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return detail, nil
}

// Feedback records teacher rating/ranking/comment on one class choice.
func (s *AdmissionService) Feedback(ctx context.Context, id string, req TeacherFeedbackRequest) (*models.StudentClassApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}
	if err := s.repo.UpdateTeacherFeedback(ctx, id, req.Rating, req.Ranking, req.Comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record feedback")
	}
	return s.reload(ctx, id)
}

func (s *AdmissionService) reload(ctx context.Context, id string) (*models.StudentClassApplication, error) {
	choice, err := s.repo.FindClassApplication(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class application")
	}
	return choice, nil
}
