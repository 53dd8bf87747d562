package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushq/apply-api/internal/service"
	appErrors "github.com/campushq/apply-api/pkg/errors"
	"github.com/campushq/apply-api/pkg/response"
)

// AdmissionHandler exposes the staff-facing admission lifecycle.
type AdmissionHandler struct {
	service *service.AdmissionService
}

// NewAdmissionHandler creates a new handler.
func NewAdmissionHandler(svc *service.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{service: svc}
}

// Admit godoc
// @Summary Admit class choice
// @Description Admit a student to one class choice; demotes admitted siblings
// @Tags Admissions
// @Produce json
// @Param id path string true "Class application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class-applications/{id}/admit [post]
func (h *AdmissionHandler) Admit(c *gin.Context) {
	choice, err := h.service.Admit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, choice, nil)
}

// Unadmit godoc
// @Summary Revert admission
// @Description Return a class choice to the unassigned state
// @Tags Admissions
// @Produce json
// @Param id path string true "Class application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class-applications/{id}/unadmit [post]
func (h *AdmissionHandler) Unadmit(c *gin.Context) {
	choice, err := h.service.Unadmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, choice, nil)
}

// Waitlist godoc
// @Summary Waitlist class choice
// @Description Place a class choice on the waitlist
// @Tags Admissions
// @Produce json
// @Param id path string true "Class application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class-applications/{id}/waitlist [post]
func (h *AdmissionHandler) Waitlist(c *gin.Context) {
	choice, err := h.service.Waitlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, choice, nil)
}

// Review godoc
// @Summary Review application
// @Description Set the administrative verdict and comment on an application
// @Tags Admissions
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.ReviewApplicationRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id}/review [put]
func (h *AdmissionHandler) Review(c *gin.Context) {
	var req service.ReviewApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	application, err := h.service.Review(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// Feedback godoc
// @Summary Record teacher feedback
// @Description Store a teacher's rating, ranking and comment for a class choice
// @Tags Admissions
// @Accept json
// @Produce json
// @Param id path string true "Class application ID"
// @Param payload body service.TeacherFeedbackRequest true "Feedback payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class-applications/{id}/feedback [put]
func (h *AdmissionHandler) Feedback(c *gin.Context) {
	var req service.TeacherFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feedback payload"))
		return
	}
	choice, err := h.service.Feedback(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, choice, nil)
}
