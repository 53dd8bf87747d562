package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushq/apply-api/internal/formclient"
	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type programRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ListActive(ctx context.Context) ([]models.Program, error)
	GetSettings(ctx context.Context, programID string) (*models.ApplicationSettings, error)
	UpsertSettings(ctx context.Context, settings *models.ApplicationSettings) error
}

type fieldProvisioner interface {
	CreateField(ctx context.Context, apiKey string, formID int64, spec formclient.FieldSpec) (*formclient.Field, error)
}

// UpdateSettingsRequest carries the editable per-program form configuration.
type UpdateSettingsRequest struct {
	FormID              *int64 `json:"form_id" validate:"omitempty,gt=0"`
	APIKey              string `json:"api_key"`
	UsernameFieldID     *int64 `json:"username_field_id" validate:"omitempty,gt=0"`
	CoreClass1FieldID   *int64 `json:"coreclass1_field_id" validate:"omitempty,gt=0"`
	CoreClass2FieldID   *int64 `json:"coreclass2_field_id" validate:"omitempty,gt=0"`
	CoreClass3FieldID   *int64 `json:"coreclass3_field_id" validate:"omitempty,gt=0"`
	TeacherViewTemplate string `json:"teacher_view_template"`
}

// ProvisionFieldRequest asks for a new field on the program's form, optionally
// bound to one of the semantic slots used by sync.
type ProvisionFieldRequest struct {
	Label    string `json:"label" validate:"required"`
	Type     string `json:"field_type" validate:"required"`
	Required bool   `json:"required"`
	// Slot is one of "", "username", "coreclass1", "coreclass2", "coreclass3".
	Slot string `json:"slot" validate:"omitempty,oneof=username coreclass1 coreclass2 coreclass3"`
}

// ProgramService exposes program listings and manages per-program form
// provider settings, including provisioning new fields upstream.
type ProgramService struct {
	repo      programRepository
	forms     fieldProvisioner
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProgramService constructs a ProgramService.
func NewProgramService(repo programRepository, forms fieldProvisioner, validate *validator.Validate, logger *zap.Logger) *ProgramService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgramService{repo: repo, forms: forms, validator: validate, logger: logger}
}

// ListActive returns programs currently accepting applications.
func (s *ProgramService) ListActive(ctx context.Context) ([]models.Program, error) {
	programs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	return programs, nil
}

// GetDetail returns the program plus its settings when configured.
func (s *ProgramService) GetDetail(ctx context.Context, programID string) (*models.ProgramDetail, error) {
	program, err := s.repo.FindByID(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	detail := &models.ProgramDetail{Program: *program}
	settings, err := s.repo.GetSettings(ctx, programID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load settings")
		}
	} else {
		detail.Settings = settings
	}
	return detail, nil
}

// UpdateSettings validates and persists the program's form configuration.
func (s *ProgramService) UpdateSettings(ctx context.Context, programID string, req UpdateSettingsRequest) (*models.ApplicationSettings, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid settings payload")
	}
	if _, err := s.repo.FindByID(ctx, programID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}

	settings := &models.ApplicationSettings{
		ProgramID:           programID,
		FormID:              req.FormID,
		APIKey:              strings.TrimSpace(req.APIKey),
		UsernameFieldID:     req.UsernameFieldID,
		CoreClass1FieldID:   req.CoreClass1FieldID,
		CoreClass2FieldID:   req.CoreClass2FieldID,
		CoreClass3FieldID:   req.CoreClass3FieldID,
		TeacherViewTemplate: req.TeacherViewTemplate,
		UpdatedAt:           time.Now().UTC(),
	}
	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save settings")
	}
	return settings, nil
}

// ProvisionField creates a new field on the program's form and, when a slot is
// named, binds the new field id to that slot in the settings.
func (s *ProgramService) ProvisionField(ctx context.Context, programID string, req ProvisionFieldRequest) (*formclient.Field, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid field payload")
	}

	settings, err := s.repo.GetSettings(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSyncIncomplete, "program has no application settings")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load settings")
	}
	if settings.FormID == nil {
		return nil, appErrors.Clone(appErrors.ErrSyncIncomplete, "program has no form id configured")
	}

	field, err := s.forms.CreateField(ctx, settings.APIKey, *settings.FormID, formclient.FieldSpec{
		Label:    req.Label,
		Type:     req.Type,
		Required: req.Required,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to create form field")
	}

	if req.Slot != "" {
		switch req.Slot {
		case "username":
			settings.UsernameFieldID = &field.ID
		case "coreclass1":
			settings.CoreClass1FieldID = &field.ID
		case "coreclass2":
			settings.CoreClass2FieldID = &field.ID
		case "coreclass3":
			settings.CoreClass3FieldID = &field.ID
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q", req.Slot))
		}
		settings.UpdatedAt = time.Now().UTC()
		if err := s.repo.UpsertSettings(ctx, settings); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bind field to settings")
		}
	}

	s.logger.Info("provisioned form field",
		zap.String("program_id", programID),
		zap.Int64("field_id", field.ID),
		zap.String("slot", req.Slot))
	return field, nil
}
