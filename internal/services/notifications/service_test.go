package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildguard-desktop/internal/api"
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

type fakeBackend struct {
	*httptest.Server
	mu     sync.Mutex
	stored []byte
	gets   atomic.Int32
	puts   atomic.Int32
}

func newTestService(t *testing.T, stored string) (*Service, *fakeBackend) {
	b := &fakeBackend{stored: []byte(stored)}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/preferences" {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			b.gets.Add(1)
			w.Write(b.stored)
		case http.MethodPut:
			b.puts.Add(1)
			b.stored, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(b.Close)

	client := api.NewClient(b.URL, "", api.WithRetries(0))
	return NewService(context.Background(), staticClients{client}), b
}

func (b *fakeBackend) storedPreferences(t *testing.T) map[string]Channels {
	b.mu.Lock()
	defer b.mu.Unlock()
	var wire wirePreferences
	require.NoError(t, json.Unmarshal(b.stored, &wire))
	return wire.Preferences
}

func TestEventTypes(t *testing.T) {
	t.Run("Should accept only enumerated types", func(t *testing.T) {
		for _, e := range EventTypes {
			assert.True(t, e.Valid(), e)
		}
		assert.False(t, EventType("deploy_started").Valid())
		assert.False(t, EventType("").Valid())
	})

	t.Run("Should default failures to email", func(t *testing.T) {
		assert.Equal(t, Channels{InApp: true, Email: true}, DefaultChannels(BuildFailed))
		assert.Equal(t, Channels{InApp: true}, DefaultChannels(BuildSucceeded))
		assert.Len(t, Defaults(), len(EventTypes))
	})

	t.Run("Should reject unknown channels", func(t *testing.T) {
		var ch Channels
		require.NoError(t, ch.Set(ChannelSlack, true))
		assert.True(t, ch.Slack)
		assert.ErrorContains(t, ch.Set("sms", true), "unknown channel")
	})
}

func TestGetPreferences(t *testing.T) {
	t.Run("Should fill missing types and drop unknown ones", func(t *testing.T) {
		s, _ := newTestService(t, `{"preferences":{
			"build_failed":{"in_app":false,"email":false,"slack":true},
			"deploy_started":{"in_app":true,"email":true,"slack":true}}}`)

		prefs, err := s.GetPreferences("p1")
		require.NoError(t, err)
		assert.Len(t, prefs, len(EventTypes))
		assert.Equal(t, Channels{Slack: true}, prefs[BuildFailed])
		assert.Equal(t, DefaultChannels(QualityAlert), prefs[QualityAlert])
		assert.NotContains(t, prefs, EventType("deploy_started"))
	})

	t.Run("Should treat an empty record as all defaults", func(t *testing.T) {
		s, _ := newTestService(t, `{}`)

		prefs, err := s.GetPreferences("p1")
		require.NoError(t, err)
		assert.Equal(t, Defaults(), prefs)
	})
}

func TestUpdatePreferences(t *testing.T) {
	t.Run("Should store an exhaustive map", func(t *testing.T) {
		s, backend := newTestService(t, `{}`)

		full, err := s.UpdatePreferences("p1", Preferences{ScenarioReady: {Email: true}})
		require.NoError(t, err)
		assert.Len(t, full, len(EventTypes))

		stored := backend.storedPreferences(t)
		assert.Len(t, stored, len(EventTypes))
		assert.Equal(t, Channels{Email: true}, stored["scenario_ready"])
		assert.Equal(t, DefaultChannels(ExportFailed), stored["export_failed"])
	})

	t.Run("Should reject unknown event types", func(t *testing.T) {
		s, backend := newTestService(t, `{}`)

		_, err := s.UpdatePreferences("p1", Preferences{"deploy_started": {InApp: true}})
		assert.ErrorContains(t, err, `unknown event type "deploy_started"`)
		assert.Zero(t, backend.puts.Load())
	})
}

func TestSetChannel(t *testing.T) {
	t.Run("Should toggle one channel and refresh the cache", func(t *testing.T) {
		s, backend := newTestService(t, `{"preferences":{}}`)

		_, err := s.GetPreferences("p1")
		require.NoError(t, err)

		prefs, err := s.SetChannel("p1", ExportCompleted, ChannelSlack, true)
		require.NoError(t, err)
		assert.Equal(t, Channels{InApp: true, Slack: true}, prefs[ExportCompleted])

		reread, err := s.GetPreferences("p1")
		require.NoError(t, err)
		assert.Equal(t, prefs, reread)
		assert.Equal(t, int32(2), backend.gets.Load())
	})

	t.Run("Should reject unknown event type or channel", func(t *testing.T) {
		s, backend := newTestService(t, `{}`)

		_, err := s.SetChannel("p1", "deploy_started", ChannelEmail, true)
		assert.Error(t, err)

		_, err = s.SetChannel("p1", BuildFailed, "pager", true)
		assert.ErrorContains(t, err, "unknown channel")
		assert.Zero(t, backend.puts.Load())
	})
}
