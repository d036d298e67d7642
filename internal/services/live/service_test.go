package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/metrics"
	"buildguard-desktop/internal/sse"
)

type staticClients struct {
	client *api.Client
}

func (c staticClients) Client(profileID string) (*api.Client, error) {
	if profileID != "p1" {
		return nil, errors.New("profile not found: " + profileID)
	}
	return c.client, nil
}

// newStreamServer serves one progress event and a heartbeat, then holds the
// stream open until the client goes away
func newStreamServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var connections atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/scenarios/sc-1/progress", func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
		fmt.Fprint(w, "event: progress\ndata: {\"percent\":40}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/scenarios/sc-2/progress", func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		http.Error(w, "no such scenario", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &connections
}

func newTestService(t *testing.T, reconnectDelay time.Duration) (*Service, *events.Recorder, *atomic.Int32) {
	server, connections := newStreamServer(t)
	rec := &events.Recorder{}
	s := NewService(context.Background(), staticClients{api.NewClient(server.URL, "")}, rec, reconnectDelay)
	t.Cleanup(s.UnwatchAll)
	return s, rec, connections
}

func updates(rec *events.Recorder, id string) []Update {
	var out []Update
	for _, e := range rec.Named(EventName(id)) {
		out = append(out, e.Payload.(Update))
	}
	return out
}

func TestWatch(t *testing.T) {
	t.Run("Should relay open and messages but not heartbeats", func(t *testing.T) {
		s, rec, _ := newTestService(t, 0)

		id, err := s.Watch("p1", "/scenarios/sc-1/progress")
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(updates(rec, id)) >= 2 }, 2*time.Second, 10*time.Millisecond)

		got := updates(rec, id)
		require.Len(t, got, 2)
		assert.Equal(t, UpdateOpen, got[0].Type)
		assert.Equal(t, UpdateMessage, got[1].Type)
		require.NotNil(t, got[1].Message)
		assert.Equal(t, "progress", got[1].Message.Event)
		assert.Equal(t, map[string]interface{}{"percent": float64(40)}, got[1].Message.Data)

		watches := s.ListWatches()
		require.Len(t, watches, 1)
		assert.Equal(t, "scenarios/sc-1/progress", watches[0].Path)
		assert.Equal(t, sse.StateConnected, watches[0].State)
	})

	t.Run("Should report errors and retry after the delay", func(t *testing.T) {
		s, rec, connections := newTestService(t, 20*time.Millisecond)

		id, err := s.Watch("p1", "scenarios/sc-2/progress")
		require.NoError(t, err)

		require.Eventually(t, func() bool { return connections.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

		got := updates(rec, id)
		require.NotEmpty(t, got)
		assert.Equal(t, UpdateError, got[0].Type)
		assert.Contains(t, got[0].Error, "no such scenario")
	})

	t.Run("Should stop relaying after unwatch", func(t *testing.T) {
		s, rec, _ := newTestService(t, 0)

		id, err := s.Watch("p1", "scenarios/sc-1/progress")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(updates(rec, id)) >= 2 }, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, s.Unwatch(id))
		assert.Empty(t, s.ListWatches())
		assert.ErrorContains(t, s.Unwatch(id), "watch not found")

		time.Sleep(30 * time.Millisecond)
		assert.Len(t, updates(rec, id), 2)
	})

	t.Run("Should count stream updates", func(t *testing.T) {
		s, rec, _ := newTestService(t, 0)
		collector := metrics.New()
		s.SetMetrics(collector)

		id, err := s.Watch("p1", "scenarios/sc-1/progress")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(updates(rec, id)) >= 2 }, 2*time.Second, 10*time.Millisecond)

		out := httptest.NewRecorder()
		collector.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, out.Body.String(), `buildguard_stream_events_total{type="open"} 1`)
		assert.Contains(t, out.Body.String(), `buildguard_stream_events_total{type="message"} 1`)
	})

	t.Run("Should close watches when the service context ends", func(t *testing.T) {
		server, _ := newStreamServer(t)
		rec := &events.Recorder{}
		ctx, cancel := context.WithCancel(context.Background())
		s := NewService(ctx, staticClients{api.NewClient(server.URL, "")}, rec, 0)
		t.Cleanup(s.UnwatchAll)

		id, err := s.Watch("p1", "scenarios/sc-1/progress")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(updates(rec, id)) >= 2 }, 2*time.Second, 10*time.Millisecond)

		cancel()
		require.Eventually(t, func() bool { return len(s.ListWatches()) == 0 }, 2*time.Second, 10*time.Millisecond)

		_, err = s.Watch("p1", "scenarios/sc-1/progress")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Should reject unknown profile", func(t *testing.T) {
		s, _, connections := newTestService(t, 0)

		_, err := s.Watch("p9", "scenarios/sc-1/progress")
		assert.ErrorContains(t, err, "profile not found")
		assert.Zero(t, connections.Load())
	})
}

func TestCleanPath(t *testing.T) {
	valid := []struct {
		input    string
		expected string
	}{
		{"scenarios/sc-1/progress", "scenarios/sc-1/progress"},
		{"/datasets/ds-1/extraction/events", "datasets/ds-1/extraction/events"},
		{" builds/b-7/logs?follow=true ", "builds/b-7/logs?follow=true"},
	}
	for _, tt := range valid {
		got, err := cleanPath(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, got)
	}

	for _, input := range []string{"", "/", "https://evil.example/stream", "scenarios/../admin", "./progress"} {
		_, err := cleanPath(input)
		assert.Error(t, err, input)
	}
}
