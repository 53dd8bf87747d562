package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campushq/apply-api/internal/formclient"
	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type syncProgramRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ListActive(ctx context.Context) ([]models.Program, error)
	GetSettings(ctx context.Context, programID string) (*models.ApplicationSettings, error)
	ListProgramIDsByFormID(ctx context.Context, formID int64) ([]string, error)
}

type syncUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

type syncSubjectRepository interface {
	FindByID(ctx context.Context, programID string, id int64) (*models.Subject, error)
	FindByTitle(ctx context.Context, programID, title string) ([]models.Subject, error)
}

type syncApplicationRepository interface {
	SyncBatch(ctx context.Context, programID string, records []models.ApplicationUpsert) ([]models.StudentProgramApplication, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
	ListChoices(ctx context.Context, applicationID string) ([]models.ClassApplicationDetail, error)
}

type submissionLister interface {
	Submissions(ctx context.Context, apiKey string, formID int64) ([]formclient.Submission, error)
}

// SyncService reconciles external form submissions into local application
// records. A read of the application collection transparently triggers a
// fresh synchronization first; a mutex-guarded flag prevents reads performed
// inside the sync itself (the upsert step reads existing records) from
// recursing into another sync.
type SyncService struct {
	programs     syncProgramRepository
	users        syncUserRepository
	subjects     syncSubjectRepository
	applications syncApplicationRepository
	forms        submissionLister
	cache        *CacheService
	metrics      *MetricsService
	cacheTTL     time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	fetching bool
}

// NewSyncService constructs a SyncService.
func NewSyncService(
	programs syncProgramRepository,
	users syncUserRepository,
	subjects syncSubjectRepository,
	applications syncApplicationRepository,
	forms submissionLister,
	cache *CacheService,
	metrics *MetricsService,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *SyncService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		programs:     programs,
		users:        users,
		subjects:     subjects,
		applications: applications,
		forms:        forms,
		cache:        cache,
		metrics:      metrics,
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

// SetFormClient injects the submission source after construction. The form
// client and the sync service reference each other (the client notifies the
// service about upstream changes), so one side is wired late.
func (s *SyncService) SetFormClient(forms submissionLister) {
	s.forms = forms
}

func applicationsCacheKey(programID string) string {
	return "applications:program:" + programID
}

// Fetch synchronizes one program's applications from the external form and
// returns the touched records. The fetch-in-progress flag is held for the
// duration and released on every exit path.
func (s *SyncService) Fetch(ctx context.Context, program *models.Program) ([]models.StudentProgramApplication, error) {
	if !s.tryBeginFetch() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a synchronization is already in progress")
	}
	defer s.endFetch()
	return s.fetchLocked(ctx, program)
}

// SyncProgram is the explicit sync trigger for one program by id.
func (s *SyncService) SyncProgram(ctx context.Context, programID string) ([]models.StudentProgramApplication, error) {
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	return s.Fetch(ctx, program)
}

// EnsureSynced brings every active program up to date. It is invoked on read
// access to the application collection; when a fetch is already running it
// returns immediately so reads issued from inside the sync never nest.
func (s *SyncService) EnsureSynced(ctx context.Context) error {
	if !s.tryBeginFetch() {
		return nil
	}
	defer s.endFetch()

	programs, err := s.programs.ListActive(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	for i := range programs {
		if _, err := s.fetchLocked(ctx, &programs[i]); err != nil {
			return err
		}
	}
	return nil
}

// ListApplications lists applications, synchronizing first. A failed sync
// surfaces as the read error so callers can tell "sync failed" apart from
// "no applications yet".
func (s *SyncService) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error) {
	if err := s.EnsureSynced(ctx); err != nil {
		return nil, nil, err
	}

	applications, total, err := s.applications.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return applications, pagination, nil
}

// GetApplication returns one application with its ranked choices attached.
func (s *SyncService) GetApplication(ctx context.Context, id string) (*models.ApplicationDetail, []models.ClassApplicationDetail, error) {
	if err := s.EnsureSynced(ctx); err != nil {
		return nil, nil, err
	}

	detail, err := s.applications.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	choices, err := s.applications.ListChoices(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class applications")
	}
	detail.Choices = make([]models.StudentClassApplication, 0, len(choices))
	for _, choice := range choices {
		detail.Choices = append(detail.Choices, choice.StudentClassApplication)
	}
	return detail, choices, nil
}

// InvalidateForm implements formclient.Invalidator. The key is deliberately
// coarse: every program configured with the changed form loses its cached
// fetch result; when the form cannot be mapped, everything is dropped.
func (s *SyncService) InvalidateForm(ctx context.Context, formID int64) {
	programIDs, err := s.programs.ListProgramIDsByFormID(ctx, formID)
	if err != nil || len(programIDs) == 0 {
		if err != nil {
			s.logger.Warn("failed to map form to programs, invalidating all", zap.Int64("form_id", formID), zap.Error(err))
		}
		if s.cache != nil {
			_ = s.cache.Invalidate(ctx, applicationsCacheKey("*"))
		}
		return
	}
	for _, programID := range programIDs {
		if s.cache != nil {
			_ = s.cache.Invalidate(ctx, applicationsCacheKey(programID))
		}
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, fieldInfoCacheKey(formID))
	}
}

func (s *SyncService) tryBeginFetch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching {
		return false
	}
	s.fetching = true
	return true
}

func (s *SyncService) endFetch() {
	s.mu.Lock()
	s.fetching = false
	s.mu.Unlock()
}

// fetchLocked runs one program's synchronization. Callers hold the fetch flag.
func (s *SyncService) fetchLocked(ctx context.Context, program *models.Program) ([]models.StudentProgramApplication, error) {
	var cached []models.StudentProgramApplication
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, applicationsCacheKey(program.ID), &cached); err == nil && hit {
			return cached, nil
		}
	}

	start := time.Now()

	settings, err := s.programs.GetSettings(ctx, program.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSyncIncomplete, fmt.Sprintf("program %s has no application settings", program.ID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application settings")
	}
	if settings.FormID == nil {
		return nil, appErrors.Clone(appErrors.ErrSyncIncomplete, fmt.Sprintf("program %s has no form id configured", program.ID))
	}

	submissions, err := s.forms.Submissions(ctx, settings.APIKey, *settings.FormID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to list form submissions")
	}

	var (
		records []models.ApplicationUpsert
		skipped int
	)
	for _, submission := range submissions {
		data := make(map[int64]string, len(submission.Data))
		for _, value := range submission.Data {
			data[value.FieldID] = value.Value
		}

		user, err := s.resolveUser(ctx, settings, data)
		if err != nil {
			return nil, err
		}
		if user == nil {
			// Expected for test or incomplete submissions.
			skipped++
			s.logger.Debug("skipping submission without local user",
				zap.Int64("submission_id", submission.ID),
				zap.String("program_id", program.ID))
			continue
		}

		choices := make(map[int]int64, 3)
		for rank := 1; rank <= 3; rank++ {
			fieldID := settings.CoreClassFieldID(rank)
			if fieldID == nil {
				continue
			}
			subject := s.resolveSubject(ctx, program.ID, data[*fieldID])
			if subject != nil {
				choices[rank] = subject.ID
			}
		}

		records = append(records, models.ApplicationUpsert{
			SubmissionID: submission.ID,
			UserID:       user.ID,
			Choices:      choices,
		})
	}

	touched, err := s.applications.SyncBatch(ctx, program.ID, records)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to persist synchronized applications")
	}

	if s.metrics != nil {
		s.metrics.RecordSyncRun(time.Since(start), len(records), skipped)
	}
	s.logger.Info("program synchronized",
		zap.String("program_id", program.ID),
		zap.Int("submissions", len(submissions)),
		zap.Int("applications", len(records)),
		zap.Int("skipped", skipped),
		zap.Duration("took", time.Since(start)))

	if s.cache != nil {
		_ = s.cache.Set(ctx, applicationsCacheKey(program.ID), touched, s.cacheTTL)
	}
	return touched, nil
}

func (s *SyncService) resolveUser(ctx context.Context, settings *models.ApplicationSettings, data map[int64]string) (*models.User, error) {
	if settings.UsernameFieldID == nil {
		return nil, nil
	}
	username := strings.TrimSpace(data[*settings.UsernameFieldID])
	if username == "" {
		return nil, nil
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to look up submission user")
	}
	return user, nil
}

// resolveSubject maps a raw choice token to a catalog subject. Tokens look
// like "<id>|<display text>" or are a bare title; the numeric id wins, the
// trimmed left part is retried as an exact title, and anything unresolvable
// degrades to nil rather than failing the sync.
func (s *SyncService) resolveSubject(ctx context.Context, programID, raw string) *models.Subject {
	if raw == "" {
		return nil
	}

	token := raw
	if idx := strings.Index(raw, "|"); idx >= 0 {
		token = raw[:idx]
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		subject, err := s.subjects.FindByID(ctx, programID, id)
		if err == nil {
			return subject
		}
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("subject lookup by id failed", zap.Int64("subject_id", id), zap.Error(err))
			return nil
		}
	}

	matches, err := s.subjects.FindByTitle(ctx, programID, token)
	if err != nil {
		s.logger.Warn("subject lookup by title failed", zap.String("title", token), zap.Error(err))
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}
