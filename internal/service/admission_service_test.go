package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type admissionRepoStub struct {
	choices      map[string]*models.StudentClassApplication
	applications map[string]*models.ApplicationDetail
}

func newAdmissionRepoStub() *admissionRepoStub {
	return &admissionRepoStub{
		choices:      map[string]*models.StudentClassApplication{},
		applications: map[string]*models.ApplicationDetail{},
	}
}

func (r *admissionRepoStub) FindClassApplication(ctx context.Context, id string) (*models.StudentClassApplication, error) {
	choice, ok := r.choices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return choice, nil
}

func (r *admissionRepoStub) Admit(ctx context.Context, id string) error {
	target, ok := r.choices[id]
	if !ok {
		return sql.ErrNoRows
	}
	for _, sibling := range r.choices {
		if sibling.ApplicationID == target.ApplicationID && sibling.ID != id && sibling.AdmissionStatus == models.AdmissionAdmitted {
			sibling.AdmissionStatus = models.AdmissionUnassigned
		}
	}
	target.AdmissionStatus = models.AdmissionAdmitted
	return nil
}

func (r *admissionRepoStub) SetAdmissionStatus(ctx context.Context, id string, status models.AdmissionStatus) error {
	choice, ok := r.choices[id]
	if !ok {
		return sql.ErrNoRows
	}
	choice.AdmissionStatus = status
	return nil
}

func (r *admissionRepoStub) UpdateTeacherFeedback(ctx context.Context, id string, rating, ranking *int, comment string) error {
	choice, ok := r.choices[id]
	if !ok {
		return sql.ErrNoRows
	}
	choice.TeacherRating = rating
	choice.TeacherRanking = ranking
	choice.TeacherComment = comment
	return nil
}

func (r *admissionRepoStub) UpdateReview(ctx context.Context, id string, status models.AdminStatus, comment string) error {
	detail, ok := r.applications[id]
	if !ok {
		return sql.ErrNoRows
	}
	detail.AdminStatus = status
	detail.AdminComment = comment
	return nil
}

func (r *admissionRepoStub) FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	detail, ok := r.applications[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return detail, nil
}

func newAdmissionFixture() (*AdmissionService, *admissionRepoStub) {
	repo := newAdmissionRepoStub()
	repo.choices["c1"] = &models.StudentClassApplication{ID: "c1", ApplicationID: "a1", Rank: 1, AdmissionStatus: models.AdmissionAdmitted}
	repo.choices["c2"] = &models.StudentClassApplication{ID: "c2", ApplicationID: "a1", Rank: 2, AdmissionStatus: models.AdmissionUnassigned}
	repo.choices["c3"] = &models.StudentClassApplication{ID: "c3", ApplicationID: "a2", Rank: 1, AdmissionStatus: models.AdmissionAdmitted}
	repo.applications["a1"] = &models.ApplicationDetail{
		StudentProgramApplication: models.StudentProgramApplication{ID: "a1"},
		Username:                  "alice",
	}
	return NewAdmissionService(repo, nil, nil), repo
}

func TestAdmitDemotesAdmittedSibling(t *testing.T) {
	svc, repo := newAdmissionFixture()

	choice, err := svc.Admit(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionAdmitted, choice.AdmissionStatus)
	assert.Equal(t, models.AdmissionUnassigned, repo.choices["c1"].AdmissionStatus)
	// Choices on other applications are untouched.
	assert.Equal(t, models.AdmissionAdmitted, repo.choices["c3"].AdmissionStatus)
}

func TestAdmitAlreadyAdmittedIsIdempotent(t *testing.T) {
	svc, repo := newAdmissionFixture()

	choice, err := svc.Admit(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionAdmitted, choice.AdmissionStatus)
	assert.Equal(t, models.AdmissionUnassigned, repo.choices["c2"].AdmissionStatus)
}

func TestAdmitUnknownChoice(t *testing.T) {
	svc, _ := newAdmissionFixture()

	_, err := svc.Admit(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUnadmitAndWaitlist(t *testing.T) {
	svc, _ := newAdmissionFixture()

	choice, err := svc.Waitlist(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionWaitlisted, choice.AdmissionStatus)

	choice, err = svc.Unadmit(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionUnassigned, choice.AdmissionStatus)
}

func TestReviewUpdatesVerdict(t *testing.T) {
	svc, repo := newAdmissionFixture()

	detail, err := svc.Review(context.Background(), "a1", ReviewApplicationRequest{
		AdminStatus:  models.AdminStatusApproved,
		AdminComment: "strong candidate",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AdminStatusApproved, detail.AdminStatus)
	assert.Equal(t, "strong candidate", repo.applications["a1"].AdminComment)
}

func TestReviewRejectsInvalidStatus(t *testing.T) {
	svc, _ := newAdmissionFixture()

	_, err := svc.Review(context.Background(), "a1", ReviewApplicationRequest{AdminStatus: models.AdminStatus(7)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFeedbackValidatesRating(t *testing.T) {
	svc, repo := newAdmissionFixture()

	rating := 11
	_, err := svc.Feedback(context.Background(), "c1", TeacherFeedbackRequest{Rating: &rating})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	rating = 8
	ranking := 2
	choice, err := svc.Feedback(context.Background(), "c1", TeacherFeedbackRequest{
		Rating:  &rating,
		Ranking: &ranking,
		Comment: "solid essay",
	})
	require.NoError(t, err)
	require.NotNil(t, choice.TeacherRating)
	assert.Equal(t, 8, *choice.TeacherRating)
	assert.Equal(t, "solid essay", repo.choices["c1"].TeacherComment)
}
