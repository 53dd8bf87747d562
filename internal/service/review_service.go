package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/campushq/apply-api/internal/formclient"
	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type reviewApplicationRepository interface {
	FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
}

type reviewProgramRepository interface {
	GetSettings(ctx context.Context, programID string) (*models.ApplicationSettings, error)
}

type formDataReader interface {
	FieldInfo(ctx context.Context, apiKey string, formID int64) ([]formclient.Field, error)
	SubmissionData(ctx context.Context, apiKey string, submissionID int64) ([]formclient.FieldValue, error)
}

// QuestionResponse pairs a form question label with the submitted answer.
type QuestionResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ReviewService produces the review-facing projections of an application:
// labelled question/answer pairs and the per-program teacher view rendered
// from a configurable text template. Markup post-processing (e.g. markdown to
// HTML) is left to consumers.
type ReviewService struct {
	applications reviewApplicationRepository
	programs     reviewProgramRepository
	forms        formDataReader
	cache        *CacheService
	cacheTTL     time.Duration
	logger       *zap.Logger
}

// NewReviewService constructs a ReviewService.
func NewReviewService(applications reviewApplicationRepository, programs reviewProgramRepository, forms formDataReader, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *ReviewService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		applications: applications,
		programs:     programs,
		forms:        forms,
		cache:        cache,
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

func fieldInfoCacheKey(formID int64) string {
	return "fieldinfo:form:" + strconv.FormatInt(formID, 10)
}

// GetResponses returns the application's submitted data as ordered
// (question, answer) pairs. A field id missing from the form's metadata is a
// schema mismatch between cached metadata and submission data and fails
// loudly rather than being skipped.
func (s *ReviewService) GetResponses(ctx context.Context, applicationID string) ([]QuestionResponse, error) {
	application, settings, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	fields, err := s.fieldInfo(ctx, settings)
	if err != nil {
		return nil, err
	}
	labels := make(map[int64]string, len(fields))
	for _, field := range fields {
		labels[field.ID] = field.Label
	}

	data, err := s.forms.SubmissionData(ctx, settings.APIKey, application.SubmissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to fetch submission data")
	}

	responses := make([]QuestionResponse, 0, len(data))
	for _, value := range data {
		label, ok := labels[value.FieldID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrSchemaMismatch,
				fmt.Sprintf("field %d present in submission %d but missing from form metadata", value.FieldID, application.SubmissionID))
		}
		responses = append(responses, QuestionResponse{Question: label, Answer: value.Value})
	}
	return responses, nil
}

// GetTeacherView renders the program's teacher view template against the
// application's raw field values. Fields are exposed to the template as
// {{.F<field id>}}.
func (s *ReviewService) GetTeacherView(ctx context.Context, applicationID string) (string, error) {
	application, settings, err := s.load(ctx, applicationID)
	if err != nil {
		return "", err
	}
	if settings.TeacherViewTemplate == "" {
		return "", appErrors.Clone(appErrors.ErrSyncIncomplete, "program has no teacher view template")
	}

	data, err := s.forms.SubmissionData(ctx, settings.APIKey, application.SubmissionID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to fetch submission data")
	}

	values := make(map[string]string, len(data))
	for _, value := range data {
		values["F"+strconv.FormatInt(value.FieldID, 10)] = value.Value
	}

	tmpl, err := template.New("teacher_view").Option("missingkey=zero").Parse(settings.TeacherViewTemplate)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid teacher view template")
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, values); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render teacher view")
	}
	return rendered.String(), nil
}

func (s *ReviewService) load(ctx context.Context, applicationID string) (*models.ApplicationDetail, *models.ApplicationSettings, error) {
	application, err := s.applications.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	settings, err := s.programs.GetSettings(ctx, application.ProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrSyncIncomplete, "program has no application settings")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application settings")
	}
	if settings.FormID == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrSyncIncomplete, "program has no form id configured")
	}
	return application, settings, nil
}

// fieldInfo returns the form schema, memoized so repeated label lookups don't
// round-trip to the provider. Invalidation happens alongside the application
// cache whenever the form is understood to have changed.
func (s *ReviewService) fieldInfo(ctx context.Context, settings *models.ApplicationSettings) ([]formclient.Field, error) {
	var fields []formclient.Field
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, fieldInfoCacheKey(*settings.FormID), &fields); err == nil && hit {
			return fields, nil
		}
	}

	fields, err := s.forms.FieldInfo(ctx, settings.APIKey, *settings.FormID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to fetch form field metadata")
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, fieldInfoCacheKey(*settings.FormID), fields, s.cacheTTL)
	}
	return fields, nil
}
