// Package sse subscribes to the backend's server-sent event streams and keeps
// the subscription alive across connection failures.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"buildguard-desktop/internal/api"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed wait before reconnecting after an error
const DefaultReconnectDelay = 5 * time.Second

// ErrStreamClosed is reported when the server ends the stream
var ErrStreamClosed = errors.New("event stream closed by server")

// ConnState is the connection state of a subscription
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Message is a decoded stream event. Data holds the parsed JSON value, or the
// raw text when the payload is not JSON.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	Raw   string      `json:"raw"`
}

// Opener opens the event stream. The stream must end when ctx is cancelled.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// ClientOpener opens path through the REST client, sharing its credentials
func ClientOpener(client *api.Client, path string) Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return client.OpenStream(ctx, path)
	}
}

// Timer is a pending reconnect
type Timer interface {
	Stop() bool
}

// Options configures a Subscription
type Options struct {
	AutoConnect bool
	// ReconnectDelay defaults to DefaultReconnectDelay. Negative disables reconnects.
	ReconnectDelay time.Duration
	OnMessage      func(Message)
	OnOpen         func()
	OnError        func(error)

	// AfterFunc schedules reconnects; time.AfterFunc when nil
	AfterFunc func(time.Duration, func()) Timer
}

// Subscription is a self-healing event stream. Callbacks run on the reader
// goroutine and must not call Disconnect or Close. No callback runs once
// Disconnect or Close has returned.
type Subscription struct {
	open Opener
	opts Options

	deliverMu sync.Mutex // held by callbacks and by teardown

	mu       sync.Mutex
	state    ConnState
	gen      uint64 // bumped per connection attempt; stale work checks it
	disposed bool
	cancel   context.CancelFunc
	body     io.ReadCloser
	timer    Timer
	timerSeq uint64

	wg sync.WaitGroup
}

// New creates a subscription and connects right away if AutoConnect is set
func New(open Opener, opts Options) *Subscription {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}

	s := &Subscription{
		open:  open,
		opts:  opts,
		state: StateDisconnected,
	}
	if opts.AutoConnect {
		s.Connect()
	}
	return s
}

// State returns the current connection state
func (s *Subscription) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the stream. It does nothing while a connection is being
// opened or is open, or after Close.
func (s *Subscription) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || s.state != StateDisconnected {
		return
	}
	s.clearTimerLocked()

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateConnecting

	s.wg.Add(1)
	go s.run(ctx, gen)
}

// Disconnect closes the stream and cancels a pending reconnect. Connect may
// be called again afterwards.
func (s *Subscription) Disconnect() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// Close disconnects for good and waits for the reader goroutine to exit
func (s *Subscription) Close() {
	s.deliverMu.Lock()
	s.mu.Lock()
	s.disposed = true
	s.teardownLocked()
	s.mu.Unlock()
	s.deliverMu.Unlock()

	s.wg.Wait()
}

func (s *Subscription) teardownLocked() {
	s.gen++
	s.clearTimerLocked()
	s.closeConnLocked()
	s.state = StateDisconnected
}

func (s *Subscription) run(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	body, err := s.open(ctx)
	if err != nil {
		s.handleError(gen, err)
		return
	}

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		body.Close()
		return
	}
	s.body = body
	s.state = StateConnected
	s.clearTimerLocked()
	s.mu.Unlock()

	if s.opts.OnOpen != nil {
		s.deliver(gen, s.opts.OnOpen)
	}

	err = readEvents(body, func(ev event) {
		msg, ok := decode(ev)
		if !ok || s.opts.OnMessage == nil {
			return
		}
		s.deliver(gen, func() { s.opts.OnMessage(msg) })
	})
	if err == nil {
		err = ErrStreamClosed
	}
	s.handleError(gen, err)
}

// handleError moves a live connection to disconnected and schedules a single
// reconnect. Errors from superseded connections are ignored.
func (s *Subscription) handleError(gen uint64, err error) {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.closeConnLocked()
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	zap.S().Warnf("Event stream error: %v", err)
	if s.opts.OnError != nil {
		s.deliver(gen, func() { s.opts.OnError(err) })
	}
}

// deliver runs fn if gen is still the live connection
func (s *Subscription) deliver(gen uint64, fn func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.current(gen) {
		return
	}
	fn()
}

func (s *Subscription) scheduleReconnectLocked() {
	if s.opts.ReconnectDelay < 0 || s.timer != nil {
		return
	}
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.opts.AfterFunc(s.opts.ReconnectDelay, func() {
		s.mu.Lock()
		if s.timer == nil || s.timerSeq != seq {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		s.Connect()
	})
}

func (s *Subscription) clearTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Subscription) closeConnLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

func (s *Subscription) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(gen)
}

func (s *Subscription) currentLocked(gen uint64) bool {
	return !s.disposed && gen == s.gen
}

// decode parses the event payload. Heartbeats report ok=false.
func decode(ev event) (Message, bool) {
	msg := Message{Event: ev.name, Raw: ev.data}

	var parsed interface{}
	if err := json.Unmarshal([]byte(ev.data), &parsed); err != nil {
		msg.Data = ev.data
		return msg, true
	}
	if obj, ok := parsed.(map[string]interface{}); ok && obj["type"] == "heartbeat" {
		return msg, false
	}
	msg.Data = parsed
	return msg, true
}
