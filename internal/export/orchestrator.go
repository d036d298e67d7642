package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAsyncThreshold is the row count above which exports run as backend jobs
	DefaultAsyncThreshold = 10000
	// DefaultPollInterval is the fixed delay between job status checks
	DefaultPollInterval = 2 * time.Second

	genericExportError = "Export failed"
	genericJobError    = "Export job failed"
)

// Ticker is the subset of time.Ticker the poll loop needs
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Options configures an Orchestrator
type Options struct {
	// AsyncThreshold is the row count above which the job path is used. Zero
	// is a real threshold: every non-empty export runs as a job. A negative
	// value selects DefaultAsyncThreshold.
	AsyncThreshold int
	PollInterval   time.Duration
	Trigger        Trigger
	OnChange       func(State)
	NewTicker      func(time.Duration) Ticker
}

// Orchestrator drives one export session: it picks the sync or async path,
// polls async jobs and hands finished payloads to the Trigger.
//
// Each Start begins a new attempt. Results from an older attempt, or from
// any attempt after Reset/Close, are dropped.
type Orchestrator struct {
	adapter Adapter
	opts    Options

	mu          sync.Mutex
	state       State
	attempt     uint64
	cancel      context.CancelFunc
	pollDone    chan struct{}
	downloading bool
	closed      bool
}

// NewOrchestrator creates an idle orchestrator for adapter
func NewOrchestrator(adapter Adapter, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.AsyncThreshold < 0 {
		opts.AsyncThreshold = DefaultAsyncThreshold
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newRealTicker
	}
	return &Orchestrator{
		adapter: adapter,
		opts:    opts,
		state:   initialState(),
	}
}

func initialState() State {
	return State{Format: FormatCSV, Status: StatusIdle}
}

// State returns a snapshot of the session
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetFormat changes the output format. Only allowed before an export starts
// or after it failed.
func (o *Orchestrator) SetFormat(format Format) (State, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return o.State(), err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return State{}, ErrClosed
	}
	if o.state.Status != StatusIdle && o.state.Status != StatusError {
		snap := o.state
		o.mu.Unlock()
		return snap, ErrBusy
	}
	o.state.Format = format
	snap := o.state
	o.mu.Unlock()

	o.notify(snap)
	return snap, nil
}

// Start runs the export from idle, or retries it from error. The sync path
// returns once the payload has been saved; the async path returns once the
// job was created and polling runs in the background. Workflow failures are
// reported through the returned state, not the error, which is reserved for
// calls that are not allowed in the current state.
func (o *Orchestrator) Start(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return State{}, ErrClosed
	}
	if o.state.Status != StatusIdle && o.state.Status != StatusError {
		snap := o.state
		o.mu.Unlock()
		return snap, ErrBusy
	}

	if o.cancel != nil {
		o.cancel()
	}
	attemptCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.attempt++
	attempt := o.attempt

	format := o.state.Format
	async := o.adapter.TotalRows() > o.opts.AsyncThreshold
	o.state = State{Format: format, Status: StatusExporting, Async: async}
	snap := o.state
	o.mu.Unlock()

	o.notify(snap)

	// The caller's ctx bounds the synchronous part only; polling outlives it
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if async {
		o.startJob(attemptCtx, attempt, format)
	} else {
		o.runStream(attemptCtx, attempt, format)
	}
	return o.State(), nil
}

// Retry restarts a failed export from scratch
func (o *Orchestrator) Retry(ctx context.Context) (State, error) {
	o.mu.Lock()
	status := o.state.Status
	o.mu.Unlock()
	if status != StatusError {
		return o.State(), fmt.Errorf("retry requires a failed export (status %s)", status)
	}
	return o.Start(ctx)
}

// Download fetches and saves the result of a completed async job. The sync
// path saves on its own, so calling Download there returns the existing file.
func (o *Orchestrator) Download(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return State{}, ErrClosed
	}
	if o.state.Status != StatusCompleted {
		snap := o.state
		o.mu.Unlock()
		return snap, ErrNotReady
	}
	if o.state.FilePath != "" {
		snap := o.state
		o.mu.Unlock()
		return snap, nil
	}
	if o.downloading {
		snap := o.state
		o.mu.Unlock()
		return snap, ErrBusy
	}
	o.downloading = true
	attempt := o.attempt
	jobID := o.state.JobID
	format := o.state.Format
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.downloading = false
		o.mu.Unlock()
	}()

	blob, err := o.adapter.DownloadJob(ctx, jobID)
	if err != nil {
		o.fail(attempt, errorMessage(err, genericExportError))
		return o.State(), nil
	}
	o.save(attempt, blob, format)
	return o.State(), nil
}

// Reset stops any polling and returns the session to its initial state,
// format included. In-flight responses of the aborted attempt are ignored.
func (o *Orchestrator) Reset() {
	o.reset(false)
}

// Close resets the session and disposes of it. Further calls fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.reset(true)
}

func (o *Orchestrator) reset(dispose bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = dispose
	o.attempt++
	cancel := o.cancel
	done := o.pollDone
	o.cancel = nil
	o.pollDone = nil
	o.state = initialState()
	snap := o.state
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	o.notify(snap)
}

func (o *Orchestrator) runStream(ctx context.Context, attempt uint64, format Format) {
	blob, err := o.adapter.DownloadStream(ctx, format)
	if err != nil {
		o.fail(attempt, errorMessage(err, genericExportError))
		return
	}
	o.save(attempt, blob, format)
}

func (o *Orchestrator) startJob(ctx context.Context, attempt uint64, format Format) {
	handle, err := o.adapter.CreateAsyncJob(ctx, format)
	if err != nil {
		o.fail(attempt, errorMessage(err, genericExportError))
		return
	}

	done := make(chan struct{})
	started := o.apply(attempt, func(s *State) {
		s.Status = StatusPolling
		s.JobID = handle.JobID
		o.pollDone = done
	})
	if !started {
		return
	}

	go o.poll(ctx, attempt, handle.JobID, done)
}

// poll checks the job on a fixed interval. Checks are sequential: a tick that
// arrives while a request is outstanding is dropped by the ticker.
func (o *Orchestrator) poll(ctx context.Context, attempt uint64, jobID string, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			o.fail(attempt, fmt.Sprintf("Panic while polling export job: %v", r))
		}
	}()

	ticker := o.opts.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		status, err := o.adapter.GetJobStatus(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			zap.S().Warnf("Export job %s status check failed: %v", jobID, err)
			o.fail(attempt, errorMessage(err, genericJobError))
			return
		}

		progress := clampProgress(status.Progress)
		switch status.Status {
		case JobCompleted:
			o.apply(attempt, func(s *State) {
				s.Status = StatusCompleted
				s.Progress = progress
			})
			return
		case JobFailed:
			msg := genericJobError
			if status.ErrorMessage != nil && *status.ErrorMessage != "" {
				msg = *status.ErrorMessage
			}
			o.fail(attempt, msg)
			return
		default:
			if !o.apply(attempt, func(s *State) { s.Progress = progress }) {
				return
			}
		}
	}
}

func (o *Orchestrator) save(attempt uint64, blob []byte, format Format) {
	if !o.current(attempt) {
		return
	}

	path, err := o.opts.Trigger.Save(blob, Filename(o.adapter.Name(), format))
	if err != nil {
		o.fail(attempt, errorMessage(err, genericExportError))
		return
	}

	o.apply(attempt, func(s *State) {
		s.Status = StatusCompleted
		s.Progress = 100
		s.FilePath = path
	})
	zap.S().Infof("Export %q saved to %s", o.adapter.Name(), path)
}

func (o *Orchestrator) fail(attempt uint64, msg string) {
	o.apply(attempt, func(s *State) {
		s.Status = StatusError
		s.Error = msg
	})
}

// apply mutates the state if attempt is still the live one, then notifies
func (o *Orchestrator) apply(attempt uint64, mutate func(*State)) bool {
	o.mu.Lock()
	if o.closed || attempt != o.attempt {
		o.mu.Unlock()
		return false
	}
	mutate(&o.state)
	snap := o.state
	o.mu.Unlock()

	o.notify(snap)
	return true
}

func (o *Orchestrator) current(attempt uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && attempt == o.attempt
}

func (o *Orchestrator) notify(snap State) {
	if o.opts.OnChange != nil {
		o.opts.OnChange(snap)
	}
}

func errorMessage(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
