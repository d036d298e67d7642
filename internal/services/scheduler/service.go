package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"buildguard-desktop/internal/export"
	"buildguard-desktop/internal/metrics"
	"buildguard-desktop/internal/models"
	"buildguard-desktop/internal/services/exports"
	"buildguard-desktop/internal/validate"
)

const defaultMaxAttempts = 3

// ExportRunner runs one export to completion
type ExportRunner interface {
	RunHeadless(ctx context.Context, req exports.HeadlessRequest) (export.State, error)
}

// Service handles scheduled export management and execution
type Service struct {
	db          *gorm.DB
	ctx         context.Context // parent of every run, cancelled by Stop
	cancel      context.CancelFunc
	cron        *cron.Cron
	jobs        map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu      sync.RWMutex
	runner      ExportRunner
	maxAttempts int
	runs        sync.WaitGroup
	metrics     *metrics.Collector
}

// NewService creates a new scheduler service
func NewService(db *gorm.DB, ctx context.Context, runner ExportRunner) *Service {
	logger := cronLogger{zap.S().Named("cron")}

	// Create cron scheduler with seconds support. A run that overlaps the next
	// tick is skipped rather than stacked.
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	return &Service{
		db:          db,
		ctx:         runCtx,
		cancel:      cancel,
		cron:        c,
		jobs:        make(map[string]cron.EntryID),
		runner:      runner,
		maxAttempts: defaultMaxAttempts,
	}
}

// Start loads enabled jobs from the database and starts the scheduler
func (s *Service) Start() error {
	zap.S().Info("Starting scheduler...")

	s.cron.Start()

	var jobs []models.ScheduledExport
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled exports: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			zap.S().Warnf("Failed to schedule job %s (%s): %v", job.Name, job.ID, err)
		} else {
			zap.S().Infof("Scheduled job: %s (%s) with cron: %s", job.Name, job.ID, job.Cron)
		}
	}

	zap.S().Infof("Scheduler started with %d enabled jobs", len(jobs))
	return nil
}

// SetMetrics records run outcomes on c. Call before Start.
func (s *Service) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// Stop stops the scheduler, cancels running exports and waits for them to
// return
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.cancel()
	s.runs.Wait()
	zap.S().Info("Scheduler stopped")
}

// ListJobs retrieves all scheduled exports
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledExport
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = toJobListResponse(&jobs[i])
	}

	return responses, nil
}

// UpsertJob creates or updates a scheduled export, matched by name
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", err
	}

	// Normalize and validate cron expression (convert 5-field to 6-field)
	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	payload, err := encodePayload(req.Payload)
	if err != nil {
		return "", err
	}

	var job models.ScheduledExport
	result := s.db.Where("name = ?", req.Name).First(&job)
	isNew := errors.Is(result.Error, gorm.ErrRecordNotFound)
	if result.Error != nil && !isNew {
		return "", fmt.Errorf("failed to query job: %w", result.Error)
	}
	if isNew {
		job = models.ScheduledExport{
			ID:   uuid.New().String(),
			Name: req.Name,
		}
	}

	job.ProfileID = req.ProfileID
	job.Cron = normalizedCron
	job.Timezone = timezone
	job.Enabled = req.Enabled
	job.Payload = payload

	schedule, err := parseSchedule(&job)
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(time.Now())
	job.NextRunAt = &nextRun

	if isNew {
		// Select("*") keeps an explicit enabled=false over the column default
		err = s.db.Select("*").Create(&job).Error
	} else {
		err = s.db.Save(&job).Error
	}
	if err != nil {
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

// DeleteJob removes a scheduled export
func (s *Service) DeleteJob(jobID string) error {
	s.unschedule(jobID)

	if err := s.db.Delete(&models.ScheduledExport{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// RunNow executes a scheduled export immediately in the background
func (s *Service) RunNow(jobID string) error {
	var job models.ScheduledExport
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.executeJob(jobID)
	}()
	return nil
}

// scheduleJob adds a job to the cron scheduler
func (s *Service) scheduleJob(job *models.ScheduledExport) error {
	if !job.Enabled {
		s.unschedule(job.ID)
		return nil
	}

	s.unschedule(job.ID)

	jobID := job.ID
	entryID, err := s.cron.AddFunc(cronSpec(job), func() {
		s.runs.Add(1)
		defer s.runs.Done()
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = entryID
	s.jobsMu.Unlock()

	return nil
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledExport
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unschedule(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	return s.scheduleJob(&job)
}

func (s *Service) unschedule(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

func (s *Service) isScheduled(jobID string) bool {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

// executeJob runs a scheduled export with retries
func (s *Service) executeJob(jobID string) {
	zap.S().Infof("Executing scheduled job: %s", jobID)

	var job models.ScheduledExport
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		zap.S().Errorf("Failed to load job %s: %v", jobID, err)
		return
	}

	now := time.Now()
	job.LastRunAt = &now
	if schedule, err := parseSchedule(&job); err != nil {
		zap.S().Warnf("Failed to parse cron for next run: %v", err)
	} else {
		nextRun := schedule.Next(now)
		job.NextRunAt = &nextRun
	}
	if err := s.db.Save(&job).Error; err != nil {
		zap.S().Warnf("Failed to update job run times: %v", err)
	}

	var payload ExportJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		zap.S().Errorf("Failed to parse job payload: %v", err)
		return
	}

	req := exports.HeadlessRequest{
		ProfileID: job.ProfileID,
		Target:    payload.Target,
		Format:    payload.Format,
		Trigger:   exports.TriggerScheduled,
		Upload:    payload.Upload,
	}

	err := retryWithBackoff(jobID, func() error {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		_, err := s.runner.RunHeadless(s.ctx, req)
		if ctxErr := s.ctx.Err(); err != nil && ctxErr != nil {
			return ctxErr
		}
		return err
	}, s.maxAttempts, func(id, msg string) {
		zap.S().Infof("Scheduled job %s: %s", id, msg)
	})
	s.metrics.ScheduledRun(err == nil)
	if err != nil {
		zap.S().Errorf("Scheduled job %s (%s) failed: %v", job.Name, jobID, err)
		return
	}

	zap.S().Infof("Completed scheduled job: %s", jobID)
}

// sleep is replaced in tests
var sleep = time.Sleep

// retryWithBackoff retries a function up to maxAttempts times with quadratic
// backoff: 500ms, 2s, 4.5s
func retryWithBackoff(taskID string, operation func() error, maxAttempts int, taskLogger func(taskID, msg string)) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 && taskLogger != nil {
				taskLogger(taskID, fmt.Sprintf("Operation succeeded on retry %d/%d", attempt, maxAttempts))
			}
			return nil
		}

		lastErr = err

		// A cancelled run is not retried
		if errors.Is(err, context.Canceled) {
			return err
		}

		if attempt < maxAttempts {
			backoffDuration := time.Duration(500*attempt*attempt) * time.Millisecond
			if taskLogger != nil {
				taskLogger(taskID, fmt.Sprintf("Attempt %d/%d failed: %v (retrying in %v)", attempt, maxAttempts, err, backoffDuration))
			}
			sleep(backoffDuration)
		} else if taskLogger != nil {
			taskLogger(taskID, fmt.Sprintf("All %d attempts failed: %v", maxAttempts, err))
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronSpec prefixes the stored 6-field expression with the job timezone
func cronSpec(job *models.ScheduledExport) string {
	tz := job.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return "CRON_TZ=" + tz + " " + job.Cron
}

func parseSchedule(job *models.ScheduledExport) (cron.Schedule, error) {
	return cronParser.Parse(cronSpec(job))
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser.Parse(cronExpr); err == nil {
			return cronExpr, nil
		}
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

// encodePayload validates the export payload and returns it as JSON
func encodePayload(raw interface{}) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("payload is required")
	}

	var data []byte
	switch p := raw.(type) {
	case string:
		data = []byte(p)
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		data = encoded
	}

	var payload ExportJobPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if err := payload.Target.Validate(); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if payload.Format == "" {
		payload.Format = string(export.FormatCSV)
	}
	if _, err := export.ParseFormat(payload.Format); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}

	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(normalized), nil
}

func toJobListResponse(job *models.ScheduledExport) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		ProfileID: job.ProfileID,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Enabled:   job.Enabled,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	var payload ExportJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err == nil {
		resp.Target = payload.Target.Name
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}

	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}

	return resp
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
