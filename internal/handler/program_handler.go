package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campushq/apply-api/internal/formclient"
	"github.com/campushq/apply-api/internal/service"
	appErrors "github.com/campushq/apply-api/pkg/errors"
	"github.com/campushq/apply-api/pkg/response"
)

// ProgramHandler manages programs, their form provider settings, manual sync
// triggers and the provider change webhook.
type ProgramHandler struct {
	programs *service.ProgramService
	sync     *service.SyncService
	forms    *formclient.Client
}

// NewProgramHandler creates a new handler.
func NewProgramHandler(programs *service.ProgramService, sync *service.SyncService, forms *formclient.Client) *ProgramHandler {
	return &ProgramHandler{programs: programs, sync: sync, forms: forms}
}

// List godoc
// @Summary List active programs
// @Tags Programs
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	programs, err := h.programs.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, nil)
}

// Get godoc
// @Summary Get program detail
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	detail, err := h.programs.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// UpdateSettings godoc
// @Summary Update program settings
// @Description Configure the program's form id, API key and field mapping
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body service.UpdateSettingsRequest true "Settings payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{id}/settings [put]
func (h *ProgramHandler) UpdateSettings(c *gin.Context) {
	var req service.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid settings payload"))
		return
	}
	settings, err := h.programs.UpdateSettings(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// ProvisionField godoc
// @Summary Provision form field
// @Description Create a field on the program's form, optionally binding it to a sync slot
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body service.ProvisionFieldRequest true "Field payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /programs/{id}/fields [post]
func (h *ProgramHandler) ProvisionField(c *gin.Context) {
	var req service.ProvisionFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid field payload"))
		return
	}
	field, err := h.programs.ProvisionField(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, field)
}

// Sync godoc
// @Summary Trigger sync
// @Description Synchronize the program's applications with the form provider
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /programs/{id}/sync [post]
func (h *ProgramHandler) Sync(c *gin.Context) {
	applications, err := h.sync.SyncProgram(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"synced": len(applications)}, nil)
}

// FormEvent godoc
// @Summary Form change webhook
// @Description Provider callback noting that a form's data changed; drops cached state
// @Tags Programs
// @Accept json
// @Produce json
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /webhooks/form-events [post]
func (h *ProgramHandler) FormEvent(c *gin.Context) {
	var payload struct {
		FormID string `json:"form_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "form_id required"))
		return
	}
	formID, err := strconv.ParseInt(payload.FormID, 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "form_id must be numeric"))
		return
	}
	h.forms.NotifyChanged(c.Request.Context(), formID)
	response.JSON(c, http.StatusAccepted, gin.H{"status": "accepted"}, nil)
}
