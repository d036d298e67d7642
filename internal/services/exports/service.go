package exports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/export"
	"buildguard-desktop/internal/metrics"
	"buildguard-desktop/internal/models"
)

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerCLI       = "cli"
)

// ClientSource resolves the API client of a profile
type ClientSource interface {
	Client(profileID string) (*api.Client, error)
}

// Uploader copies a saved export file to remote storage and returns where
// it landed
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Options tunes the export workflow
type Options struct {
	AsyncThreshold int
	PollInterval   time.Duration
	DownloadDir    string
	Uploader       Uploader           // optional
	Metrics        *metrics.Collector // optional
}

// Service keeps one export session per open export dialog
type Service struct {
	db      *gorm.DB
	ctx     context.Context
	clients ClientSource
	emitter events.Emitter
	opts    Options

	sessionsMu sync.RWMutex
	sessions   map[string]*session
}

type session struct {
	id        string
	profileID string
	target    export.Target
	trigger   string
	openedAt  time.Time
	orch      *export.Orchestrator

	mu        sync.Mutex // serializes persistence
	closed    bool
	last      export.State // last state delivered by the orchestrator
	startedAt time.Time
	location  string // remote copy of the saved file
}

// NewService creates a new export service
func NewService(db *gorm.DB, ctx context.Context, clients ClientSource, emitter events.Emitter, opts Options) *Service {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Service{
		db:       db,
		ctx:      ctx,
		clients:  clients,
		emitter:  emitter,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// OpenExport creates an idle export session and returns its ID
func (s *Service) OpenExport(req OpenRequest) (string, error) {
	sess, err := s.newSession(req.ProfileID, req.Target, req.Format, TriggerManual, nil)
	if err != nil {
		return "", err
	}

	s.sessionsMu.Lock()
	s.sessions[sess.id] = sess
	s.sessionsMu.Unlock()

	s.emit(sess, sess.orch.State())
	return sess.id, nil
}

// SetFormat changes the format of an idle or failed session
func (s *Service) SetFormat(sessionID, format string) (export.State, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return export.State{}, err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return sess.orch.State(), err
	}
	return sess.orch.SetFormat(f)
}

// StartExport runs the export. Small resources are saved before this returns;
// large ones continue as a backend job reported through events.
func (s *Service) StartExport(sessionID string) (export.State, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return export.State{}, err
	}
	return sess.orch.Start(s.ctx)
}

// RetryExport starts a failed export again from scratch
func (s *Service) RetryExport(sessionID string) (export.State, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return export.State{}, err
	}
	return sess.orch.Retry(s.ctx)
}

// DownloadExport saves the result of a completed backend job
func (s *Service) DownloadExport(sessionID string) (export.State, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return export.State{}, err
	}
	return sess.orch.Download(s.ctx)
}

// GetExportState returns the current state of a session
func (s *Service) GetExportState(sessionID string) (export.State, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return export.State{}, err
	}
	return sess.orch.State(), nil
}

// CloseExport stops polling and discards the session. Its history stays.
func (s *Service) CloseExport(sessionID string) error {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.sessionsMu.Unlock()
	if !ok {
		return fmt.Errorf("export session not found: %s", sessionID)
	}

	s.closeSession(sess)
	return nil
}

// CloseAll closes every open session. Called on shutdown.
func (s *Service) CloseAll() {
	s.sessionsMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		open = append(open, sess)
		delete(s.sessions, id)
	}
	s.sessionsMu.Unlock()

	for _, sess := range open {
		s.closeSession(sess)
	}
}

// RunHeadless drives an export to a terminal state, downloading async results
// as soon as the job completes since nobody is there to click download
func (s *Service) RunHeadless(ctx context.Context, req HeadlessRequest) (export.State, error) {
	terminal := make(chan struct{}, 1)
	sess, err := s.newSession(req.ProfileID, req.Target, req.Format, req.Trigger, func(st export.State) {
		if st.Status == export.StatusCompleted || st.Status == export.StatusError {
			select {
			case terminal <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return export.State{}, err
	}
	defer s.closeSession(sess)

	zap.S().Infof("Starting %s export of %q (session %s)", sess.trigger, sess.target.Name, sess.id)

	state, err := sess.orch.Start(ctx)
	if err != nil {
		return state, err
	}

	if state.Status == export.StatusPolling {
		select {
		case <-terminal:
		case <-ctx.Done():
			return sess.orch.State(), ctx.Err()
		}
		state = sess.orch.State()
	}

	if state.Status == export.StatusCompleted && state.FilePath == "" {
		if state, err = sess.orch.Download(ctx); err != nil {
			return state, err
		}
	}

	if state.Status == export.StatusError {
		return state, errors.New(state.Error)
	}

	if req.Upload {
		if err := s.upload(ctx, sess, state); err != nil {
			return state, err
		}
	}
	return state, nil
}

// upload copies the saved file of a completed session to remote storage and
// records where it went
func (s *Service) upload(ctx context.Context, sess *session, state export.State) error {
	if s.opts.Uploader == nil {
		return errors.New("object storage is not configured")
	}
	location, err := s.opts.Uploader.Upload(ctx, state.FilePath)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.location = location
	sess.mu.Unlock()

	s.persist(sess, state)
	return nil
}

// ListExportHistory returns the most recent export sessions
func (s *Service) ListExportHistory(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10 // Default to 10 most recent exports
	}

	var records []models.ExportRecord
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toHistoryEntry(&rec))
	}
	return entries, nil
}

// ExportHistory renders the export history as JSON or CSV
func (s *Service) ExportHistory(format string, limit int) (string, error) {
	entries, err := s.ListExportHistory(limit)
	if err != nil {
		return "", err
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(data), nil

	case "csv":
		var buf strings.Builder
		writer := csv.NewWriter(&buf)

		writer.Write([]string{"session_id", "resource_type", "resource_name", "format", "mode",
			"status", "progress", "job_id", "error", "file_path", "trigger", "started_at", "completed_at"})

		for _, e := range entries {
			completedAt := ""
			if e.CompletedAt != nil {
				completedAt = *e.CompletedAt
			}
			writer.Write([]string{
				e.SessionID,
				e.ResourceType,
				e.ResourceName,
				e.Format,
				e.Mode,
				e.Status,
				fmt.Sprintf("%.0f", e.Progress),
				e.JobID,
				e.Error,
				e.FilePath,
				e.Trigger,
				e.StartedAt,
				completedAt,
			})
		}

		writer.Flush()
		return buf.String(), writer.Error()
	}

	return "", fmt.Errorf("unsupported format: %s", format)
}

func (s *Service) newSession(profileID string, target export.Target, format, trigger string, watch func(export.State)) (*session, error) {
	if profileID == "" {
		return nil, &export.ValidationError{Field: "profile_id", Message: "required"}
	}

	f := export.FormatCSV
	if format != "" {
		parsed, err := export.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		f = parsed
	}

	client, err := s.clients.Client(profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	adapter, err := export.NewAdapter(client, target)
	if err != nil {
		return nil, err
	}

	sess := &session{
		id:        uuid.New().String(),
		profileID: profileID,
		target:    target,
		trigger:   trigger,
		openedAt:  time.Now(),
	}

	sess.orch = export.NewOrchestrator(adapter, export.Options{
		AsyncThreshold: s.opts.AsyncThreshold,
		PollInterval:   s.opts.PollInterval,
		Trigger:        export.NewDownloader(s.opts.DownloadDir),
		OnChange: func(st export.State) {
			s.record(sess, st)
			s.emit(sess, st)
			if watch != nil {
				watch(st)
			}
		},
	})

	if f != export.FormatCSV {
		if _, err := sess.orch.SetFormat(f); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) closeSession(sess *session) {
	sess.mu.Lock()
	if !sess.closed {
		// An export abandoned midway is recorded as cancelled, not left running
		if st := sess.last; st.Status == export.StatusExporting || st.Status == export.StatusPolling {
			st.Status = export.StatusError
			st.Error = "Export cancelled"
			s.persistLocked(sess, st)
		}
		sess.closed = true
	}
	sess.mu.Unlock()

	sess.orch.Close()
}

func (s *Service) getSession(sessionID string) (*session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("export session not found: %s", sessionID)
	}
	return sess, nil
}

// record stores a state delivered by the orchestrator and counts the
// transition. It holds sess.mu like closeSession, so a close sees either the
// final outcome or a run that is still going.
func (s *Service) record(sess *session, st export.State) {
	sess.mu.Lock()
	prev := sess.last.Status
	sess.last = st
	if st.Status == export.StatusExporting && prev != export.StatusExporting {
		sess.startedAt = time.Now()
	}
	startedAt := sess.startedAt
	if !sess.closed {
		s.persistLocked(sess, st)
	}
	sess.mu.Unlock()

	s.observe(sess.trigger, prev, st, startedAt)
}

// persist stores the latest state of a started session unless it is closed
func (s *Service) persist(sess *session, st export.State) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	s.persistLocked(sess, st)
}

// persistLocked writes st with sess.mu held. Idle states (before the first
// start, after close) are never written so history keeps the outcome.
func (s *Service) persistLocked(sess *session, st export.State) {
	if st.Status == export.StatusIdle {
		return
	}

	mode := models.ExportModeSync
	if st.Async {
		mode = models.ExportModeAsync
	}

	rec := models.ExportRecord{
		Location:     sess.location,
		ID:           sess.id,
		ProfileID:    sess.profileID,
		ResourceType: string(sess.target.Type),
		ResourceID:   sess.target.ResourceID,
		ResourceName: sess.target.Name,
		Format:       string(st.Format),
		Mode:         mode,
		Status:       string(st.Status),
		Progress:     st.Progress,
		JobID:        st.JobID,
		Error:        st.Error,
		FilePath:     st.FilePath,
		Trigger:      sess.trigger,
		CreatedAt:    sess.openedAt,
	}
	if st.Status == export.StatusCompleted || st.Status == export.StatusError {
		now := time.Now()
		rec.CompletedAt = &now
	}

	if err := s.db.Save(&rec).Error; err != nil {
		zap.S().Warnf("Failed to persist export %s: %v", sess.id, err)
	}
}

// observe records metrics on status transitions
func (s *Service) observe(trigger string, prev export.Status, st export.State, startedAt time.Time) {
	if st.Status == prev {
		return
	}

	switch st.Status {
	case export.StatusExporting:
		s.opts.Metrics.ExportStarted(trigger)
	case export.StatusCompleted, export.StatusError:
		mode := string(models.ExportModeSync)
		if st.Async {
			mode = string(models.ExportModeAsync)
		}
		s.opts.Metrics.ExportFinished(mode, string(st.Status), time.Since(startedAt))
	}
}

func (s *Service) emit(sess *session, st export.State) {
	s.emitter.Emit("export:"+sess.id, SessionEvent{
		SessionID:    sess.id,
		ResourceName: sess.target.Name,
		State:        st,
	})
}

func toHistoryEntry(rec *models.ExportRecord) HistoryEntry {
	entry := HistoryEntry{
		SessionID:    rec.ID,
		ProfileID:    rec.ProfileID,
		ResourceType: rec.ResourceType,
		ResourceName: rec.ResourceName,
		Format:       rec.Format,
		Mode:         string(rec.Mode),
		Status:       rec.Status,
		Progress:     rec.Progress,
		JobID:        rec.JobID,
		Error:        rec.Error,
		FilePath:     rec.FilePath,
		Location:     rec.Location,
		Trigger:      rec.Trigger,
		StartedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.CompletedAt != nil {
		completedAt := rec.CompletedAt.Format(time.RFC3339)
		entry.CompletedAt = &completedAt
	}
	entry.Summary = summarize(rec)
	return entry
}

// summarize creates a brief description of the export outcome
func summarize(rec *models.ExportRecord) string {
	switch export.Status(rec.Status) {
	case export.StatusCompleted:
		if rec.Location != "" {
			return "Uploaded to " + rec.Location
		}
		if rec.FilePath != "" {
			return "Saved to " + rec.FilePath
		}
		return "Ready to download"
	case export.StatusError:
		return "Failed: " + rec.Error
	case export.StatusPolling:
		return fmt.Sprintf("In progress (%.0f%%)", rec.Progress)
	case export.StatusExporting:
		return "Exporting"
	default:
		return rec.Status
	}
}
