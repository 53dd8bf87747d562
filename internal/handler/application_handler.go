package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campushq/apply-api/internal/models"
	"github.com/campushq/apply-api/internal/service"
	appErrors "github.com/campushq/apply-api/pkg/errors"
	"github.com/campushq/apply-api/pkg/response"
)

// ApplicationHandler serves synced application views. Every read goes through
// the sync service so listings reflect the latest provider submissions.
type ApplicationHandler struct {
	sync   *service.SyncService
	review *service.ReviewService
}

// NewApplicationHandler creates a new handler.
func NewApplicationHandler(sync *service.SyncService, review *service.ReviewService) *ApplicationHandler {
	return &ApplicationHandler{sync: sync, review: review}
}

// List godoc
// @Summary List applications
// @Description List student program applications with filtering and pagination
// @Tags Applications
// @Produce json
// @Param program_id query string false "Program ID"
// @Param user_id query string false "User ID"
// @Param admin_status query int false "Review verdict"
// @Param subject_id query int false "Subject ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	filter := models.ApplicationFilter{
		ProgramID: c.Query("program_id"),
		UserID:    c.Query("user_id"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	// Program-scoped route variant.
	if id := c.Param("id"); id != "" {
		filter.ProgramID = id
	}
	if raw := c.Query("admin_status"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "admin_status must be numeric"))
			return
		}
		status := models.AdminStatus(value)
		filter.AdminStatus = &status
	}
	if raw := c.Query("subject_id"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "subject_id must be numeric"))
			return
		}
		filter.SubjectID = &value
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	applications, pagination, err := h.sync.ListApplications(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applications, pagination)
}

// Get godoc
// @Summary Get application
// @Description Fetch one application with its ranked class choices
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	application, choices, err := h.sync.GetApplication(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"application": application, "choices": choices}, nil)
}

// Responses godoc
// @Summary Get submitted responses
// @Description Return the application's raw form data as question/answer pairs
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/responses [get]
func (h *ApplicationHandler) Responses(c *gin.Context) {
	responses, err := h.review.GetResponses(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, responses, nil)
}

// TeacherView godoc
// @Summary Render teacher view
// @Description Render the program's teacher view template for this application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /applications/{id}/teacher-view [get]
func (h *ApplicationHandler) TeacherView(c *gin.Context) {
	rendered, err := h.review.GetTeacherView(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"rendered": rendered}, nil)
}
