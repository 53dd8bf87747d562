package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushq/apply-api/internal/models"
	"github.com/campushq/apply-api/internal/repository"
	appErrors "github.com/campushq/apply-api/pkg/errors"
	"github.com/campushq/apply-api/pkg/jobs"
	"github.com/campushq/apply-api/pkg/storage"
)

type exportJobStoreStub struct {
	mu   sync.Mutex
	jobs map[string]*models.ExportJob
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{jobs: map[string]*models.ExportJob{}}
}

func (r *exportJobStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now().UTC()
	r.jobs[job.ID] = job
	return nil
}

func (r *exportJobStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (r *exportJobStoreStub) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *exportJobStoreStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queued []models.ExportJob
	for _, job := range r.jobs {
		if job.Status == models.ExportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *exportJobStoreStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

type exportRowListerStub struct {
	rows []models.ExportRow
	err  error
}

func (r *exportRowListerStub) ListForExport(ctx context.Context, programID string) ([]models.ExportRow, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.rows, nil
}

type exportProgramRepoStub struct {
	programs map[string]*models.Program
}

func (r *exportProgramRepoStub) FindByID(ctx context.Context, id string) (*models.Program, error) {
	program, ok := r.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return program, nil
}

type dispatcherStub struct {
	enqueued []jobs.Job
	err      error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.enqueued = append(d.enqueued, job)
	return nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func newExportFixture(t *testing.T) (*ExportService, *exportJobStoreStub, *exportRowListerStub) {
	t.Helper()
	store := newExportJobStoreStub()
	rows := &exportRowListerStub{rows: []models.ExportRow{
		{
			Username:     "alice",
			FullName:     "Alice Lidell",
			SubmissionID: 9001,
			AdminStatus:  models.AdminStatusApproved,
			Rank:         intPtr(1),
			SubjectTitle: strPtr("Intro to Biology"),
		},
		{
			Username:     "bob",
			FullName:     "Bob Tables",
			SubmissionID: 9003,
			AdminStatus:  models.AdminStatusUnreviewed,
		},
	}}
	programs := &exportProgramRepoStub{programs: map[string]*models.Program{
		"sp-2026": {ID: "sp-2026", Name: "Spring 2026", Year: 2026},
	}}
	localStorage, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)

	svc := NewExportService(store, rows, programs, nil, localStorage, signer, nil, ExportConfig{APIPrefix: "/api/v1"}, nil, nil, nil)
	return svc, store, rows
}

func TestCreateJobEnqueues(t *testing.T) {
	svc, store, _ := newExportFixture(t)
	queue := &dispatcherStub{}
	svc.AttachQueue(queue)

	job, err := svc.CreateJob(context.Background(), "sp-2026", models.ExportFormatCSV, "u-admin")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	assert.Equal(t, "u-admin", job.CreatedBy)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
	assert.Equal(t, "roster_export", queue.enqueued[0].Type)

	stored, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatCSV, stored.Params.Format)
}

func TestCreateJobRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newExportFixture(t)
	svc.AttachQueue(&dispatcherStub{})

	_, err := svc.CreateJob(context.Background(), "sp-2026", models.ExportFormat("xlsx"), "u-admin")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateJobUnknownProgram(t *testing.T) {
	svc, _, _ := newExportFixture(t)
	svc.AttachQueue(&dispatcherStub{})

	_, err := svc.CreateJob(context.Background(), "nope", models.ExportFormatCSV, "u-admin")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	svc, store, _ := newExportFixture(t)
	svc.AttachQueue(&dispatcherStub{err: errors.New("queue stopped")})

	_, err := svc.CreateJob(context.Background(), "sp-2026", models.ExportFormatCSV, "u-admin")
	require.Error(t, err)

	jobsList, err := store.ListQueued(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobsList, "the failed job must not stay queued")
}

func TestGenerateBuildsCSV(t *testing.T) {
	svc, store, _ := newExportFixture(t)
	job := &models.ExportJob{
		Params: models.ExportJobParams{ProgramID: "sp-2026", Format: models.ExportFormatCSV},
		Status: models.ExportStatusQueued,
	}
	require.NoError(t, store.Create(context.Background(), job))

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/"))
	assert.Equal(t, models.ExportFormatCSV, result.Format)

	file, err := svc.storage.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck

	buf := make([]byte, 4096)
	n, _ := file.Read(buf)
	content := string(buf[:n])
	assert.Contains(t, content, "Username,Full Name,Submission ID,Review Status,Choice Rank,Subject,Admission")
	assert.Contains(t, content, "alice,Alice Lidell,9001,Approved,1,Intro to Biology,")
	assert.Contains(t, content, "bob,Bob Tables,9003,Unreviewed,,,")
}

func TestWorkerFinishesJobAndResolvesDownload(t *testing.T) {
	svc, store, _ := newExportFixture(t)
	worker := NewExportWorker(store, svc, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := jobs.NewQueue("exports-test", worker.Handle, jobs.QueueConfig{Workers: 1})
	queue.Start(ctx)
	defer queue.Stop()
	svc.AttachQueue(queue)

	job, err := svc.CreateJob(ctx, "sp-2026", models.ExportFormatCSV, "u-admin")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := store.GetByID(ctx, job.ID)
		return err == nil && current.Status == models.ExportStatusFinished
	}, 3*time.Second, 20*time.Millisecond)

	finished, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.ResultURL)

	token := (*finished.ResultURL)[strings.LastIndex(*finished.ResultURL, "/")+1:]
	download, err := svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck
	assert.Equal(t, models.ExportFormatCSV, download.Format)
}

func TestWorkerMarksJobFailed(t *testing.T) {
	svc, store, rows := newExportFixture(t)
	rows.err = errors.New("db down")
	worker := NewExportWorker(store, svc, nil, 1, nil)

	job := &models.ExportJob{
		Params: models.ExportJobParams{ProgramID: "sp-2026", Format: models.ExportFormatCSV},
		Status: models.ExportStatusQueued,
	}
	require.NoError(t, store.Create(context.Background(), job))

	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1})
	require.Error(t, err)

	failed, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "db down")
}

func TestResolveDownloadRejectsBadToken(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
