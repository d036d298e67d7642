package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"buildguard-desktop/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeTimer is a reconnect that only fires when the test says so
type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.f()
}

// pipes hands out one io.Pipe per connection attempt
type pipes struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	fail    []error
	opens   int
}

func (p *pipes) open(ctx context.Context) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.opens
	p.opens++
	if n < len(p.fail) && p.fail[n] != nil {
		return nil, p.fail[n]
	}
	r, w := io.Pipe()
	p.writers = append(p.writers, w)
	return r, nil
}

func (p *pipes) writer(i int) *io.PipeWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers[i]
}

func (p *pipes) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

type recorder struct {
	mu       sync.Mutex
	messages []Message
	opens    int
	errs     []error
}

func (r *recorder) options(clock *fakeClock) Options {
	return Options{
		OnMessage: func(m Message) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		AfterFunc: clock.AfterFunc,
	}
}

func (r *recorder) snapshot() ([]Message, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...), r.opens, len(r.errs)
}

func waitState(t *testing.T, s *Subscription, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		time.Second, 5*time.Millisecond, "state never became %s", want)
}

func TestReadEvents(t *testing.T) {
	input := ": keepalive\n" +
		"event: progress\n" +
		"data: {\"pct\":10}\n" +
		"\n" +
		"data:line one\n" +
		"data: line two\n" +
		"id: 7\n" +
		"\n" +
		"event: ignored-without-data\n" +
		"\n"

	var got []event
	err := readEvents(strings.NewReader(input), func(ev event) { got = append(got, ev) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, event{name: "progress", data: `{"pct":10}`}, got[0])
	assert.Equal(t, event{name: "message", data: "line one\nline two"}, got[1])
}

func TestDecode(t *testing.T) {
	_, ok := decode(event{name: "message", data: `{"type":"heartbeat"}`})
	assert.False(t, ok, "heartbeats are dropped")

	msg, ok := decode(event{name: "message", data: `{"type":"build","id":"b-1"}`})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"type": "build", "id": "b-1"}, msg.Data)

	msg, ok = decode(event{name: "message", data: "plain text"})
	require.True(t, ok)
	assert.Equal(t, "plain text", msg.Data)
	assert.Equal(t, "plain text", msg.Raw)
}

func TestSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("Should deliver messages and drop heartbeats", func(t *testing.T) {
		p := &pipes{}
		clock := &fakeClock{}
		rec := &recorder{}
		opts := rec.options(clock)
		opts.AutoConnect = true
		s := New(p.open, opts)
		defer s.Close()

		waitState(t, s, StateConnected)

		w := p.writer(0)
		fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
		fmt.Fprint(w, "event: build\ndata: {\"status\":\"running\"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")

		require.Eventually(t, func() bool {
			msgs, _, _ := rec.snapshot()
			return len(msgs) == 2
		}, time.Second, 5*time.Millisecond)

		msgs, opens, errs := rec.snapshot()
		assert.Equal(t, 1, opens)
		assert.Equal(t, 0, errs)
		assert.Equal(t, "build", msgs[0].Event)
		assert.Equal(t, map[string]interface{}{"status": "running"}, msgs[0].Data)
		assert.Equal(t, "not json", msgs[1].Data)
	})

	t.Run("Should not connect without auto connect", func(t *testing.T) {
		p := &pipes{}
		s := New(p.open, Options{AfterFunc: (&fakeClock{}).AfterFunc})
		defer s.Close()

		assert.Equal(t, StateDisconnected, s.State())
		assert.Equal(t, 0, p.openCount())
	})

	t.Run("Should ignore connect while connected", func(t *testing.T) {
		p := &pipes{}
		clock := &fakeClock{}
		s := New(p.open, (&recorder{}).options(clock))
		defer s.Close()

		s.Connect()
		waitState(t, s, StateConnected)
		s.Connect()
		s.Connect()

		assert.Equal(t, 1, p.openCount())
	})

	t.Run("Should schedule one reconnect and reconnect after delay", func(t *testing.T) {
		p := &pipes{}
		clock := &fakeClock{}
		rec := &recorder{}
		opts := rec.options(clock)
		opts.ReconnectDelay = 3 * time.Second
		s := New(p.open, opts)
		defer s.Close()

		s.Connect()
		waitState(t, s, StateConnected)

		p.writer(0).CloseWithError(errors.New("connection reset"))
		waitState(t, s, StateDisconnected)

		require.Equal(t, 1, clock.count())
		assert.Equal(t, 3*time.Second, clock.delays[0])
		require.Eventually(t, func() bool {
			_, _, errs := rec.snapshot()
			return errs == 1
		}, time.Second, 5*time.Millisecond)

		clock.fire(0)
		waitState(t, s, StateConnected)
		assert.Equal(t, 2, p.openCount())
		require.Eventually(t, func() bool {
			_, opens, _ := rec.snapshot()
			return opens == 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Should never stack reconnect timers", func(t *testing.T) {
		p := &pipes{fail: []error{errors.New("refused")}}
		clock := &fakeClock{}
		rec := &recorder{}
		s := New(p.open, rec.options(clock))
		defer s.Close()

		s.Connect()
		waitState(t, s, StateDisconnected)
		require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, 5*time.Millisecond)

		// A second error for the same connection while the timer is pending
		s.mu.Lock()
		gen := s.gen
		s.mu.Unlock()
		s.handleError(gen, errors.New("refused again"))

		assert.Equal(t, 1, clock.count(), "exactly one pending reconnect")
		require.Eventually(t, func() bool {
			_, _, errs := rec.snapshot()
			return errs == 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Should report server end of stream as error", func(t *testing.T) {
		p := &pipes{}
		clock := &fakeClock{}
		rec := &recorder{}
		s := New(p.open, rec.options(clock))
		defer s.Close()

		s.Connect()
		waitState(t, s, StateConnected)
		p.writer(0).Close()
		waitState(t, s, StateDisconnected)
		require.Eventually(t, func() bool {
			_, _, errs := rec.snapshot()
			return errs == 1
		}, time.Second, 5*time.Millisecond)

		rec.mu.Lock()
		assert.ErrorIs(t, rec.errs[0], ErrStreamClosed)
		rec.mu.Unlock()
	})

	t.Run("Should not reconnect when disabled", func(t *testing.T) {
		p := &pipes{fail: []error{errors.New("refused")}}
		clock := &fakeClock{}
		opts := (&recorder{}).options(clock)
		opts.ReconnectDelay = -1
		s := New(p.open, opts)
		defer s.Close()

		s.Connect()
		waitState(t, s, StateDisconnected)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, clock.count())
	})

	t.Run("Should cancel pending reconnect on disconnect", func(t *testing.T) {
		p := &pipes{fail: []error{errors.New("refused")}}
		clock := &fakeClock{}
		s := New(p.open, (&recorder{}).options(clock))
		defer s.Close()

		s.Connect()
		require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, 5*time.Millisecond)

		s.Disconnect()
		assert.True(t, clock.timers[0].stopped)

		// A timer that fires anyway after being cleared does nothing
		clock.fire(0)
		assert.Equal(t, StateDisconnected, s.State())
		assert.Equal(t, 1, p.openCount())
	})

	t.Run("Should ignore callbacks after close", func(t *testing.T) {
		p := &pipes{}
		clock := &fakeClock{}
		rec := &recorder{}
		opts := rec.options(clock)
		opts.AutoConnect = true
		s := New(p.open, opts)

		waitState(t, s, StateConnected)
		w := p.writer(0)
		s.Close()

		// The reader is gone; writes to the closed pipe fail
		_, err := fmt.Fprint(w, "data: {\"late\":true}\n\n")
		assert.Error(t, err)

		msgs, _, errs := rec.snapshot()
		assert.Empty(t, msgs)
		assert.Equal(t, 0, errs, "teardown is not an error")
		assert.Equal(t, 0, clock.count(), "no reconnect after close")

		s.Connect()
		assert.Equal(t, StateDisconnected, s.State())
		assert.Equal(t, 1, p.openCount())
	})

	t.Run("Should finish a running callback before close returns", func(t *testing.T) {
		p := &pipes{}
		entered := make(chan struct{})
		release := make(chan struct{})
		var delivered atomic.Int32
		s := New(p.open, Options{
			AutoConnect: true,
			AfterFunc:   (&fakeClock{}).AfterFunc,
			OnMessage: func(Message) {
				if delivered.Add(1) == 1 {
					close(entered)
					<-release
				}
			},
		})

		waitState(t, s, StateConnected)
		w := p.writer(0)
		go fmt.Fprint(w, "data: first\n\ndata: second\n\n")
		<-entered

		closed := make(chan struct{})
		go func() {
			s.Close()
			close(closed)
		}()

		select {
		case <-closed:
			t.Fatal("Close returned while a callback was running")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case <-closed:
		case <-time.After(time.Second):
			t.Fatal("Close never returned")
		}
		assert.Equal(t, int32(1), delivered.Load(), "nothing is delivered after close")
	})
}

func TestClientOpener(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/builds/b-1/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
		fmt.Fprint(w, "data: {\"stage\":\"scan\"}\n\n")
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "tok")
	got := make(chan Message, 4)
	s := New(ClientOpener(client, "builds/b-1/events"), Options{
		AutoConnect:    true,
		ReconnectDelay: -1,
		OnMessage:      func(m Message) { got <- m },
	})

	select {
	case m := <-got:
		assert.Equal(t, map[string]interface{}{"stage": "scan"}, m.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	waitState(t, s, StateDisconnected)
	s.Close()
}
