package live

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/metrics"
	"buildguard-desktop/internal/sse"
)

// Update types carried by live events
const (
	UpdateOpen    = "open"
	UpdateMessage = "message"
	UpdateError   = "error"
)

// ClientSource resolves the backend client of a connection profile
type ClientSource interface {
	Client(profileID string) (*api.Client, error)
}

// Update is emitted as "live:{watch_id}"
type Update struct {
	WatchID string       `json:"watch_id"`
	Type    string       `json:"type"`
	Message *sse.Message `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// WatchInfo describes an open watch
type WatchInfo struct {
	ID        string        `json:"id"`
	ProfileID string        `json:"profile_id"`
	Path      string        `json:"path"`
	State     sse.ConnState `json:"state"`
}

type watch struct {
	info WatchInfo
	sub  *sse.Subscription
}

// Service relays backend event streams to the frontend
type Service struct {
	ctx            context.Context
	clients        ClientSource
	emitter        events.Emitter
	reconnectDelay time.Duration
	metrics        *metrics.Collector
	watches        map[string]*watch
	mu             sync.Mutex
}

// NewService creates a new live progress service. A zero reconnectDelay
// uses the subscription default. Every watch is closed when ctx ends.
func NewService(ctx context.Context, clients ClientSource, emitter events.Emitter, reconnectDelay time.Duration) *Service {
	s := &Service{
		ctx:            ctx,
		clients:        clients,
		emitter:        emitter,
		reconnectDelay: reconnectDelay,
		watches:        make(map[string]*watch),
	}
	context.AfterFunc(ctx, s.UnwatchAll)
	return s
}

// SetMetrics records stream updates on c. Call before the first Watch.
func (s *Service) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// EventName is the frontend event a watch emits on
func EventName(watchID string) string {
	return "live:" + watchID
}

// Watch subscribes to a backend event stream and returns the watch id
func (s *Service) Watch(profileID, path string) (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", fmt.Errorf("live updates stopped: %w", err)
	}

	path, err := cleanPath(path)
	if err != nil {
		return "", err
	}

	client, err := s.clients.Client(profileID)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	name := EventName(id)
	sub := sse.New(sse.ClientOpener(client, path), sse.Options{
		ReconnectDelay: s.reconnectDelay,
		OnOpen: func() {
			s.metrics.StreamEvent(UpdateOpen)
			s.emitter.Emit(name, Update{WatchID: id, Type: UpdateOpen})
		},
		OnMessage: func(msg sse.Message) {
			s.metrics.StreamEvent(UpdateMessage)
			s.emitter.Emit(name, Update{WatchID: id, Type: UpdateMessage, Message: &msg})
		},
		OnError: func(err error) {
			zap.S().Warnf("Live stream %s (%s) error: %v", id, path, err)
			s.metrics.StreamEvent(UpdateError)
			s.emitter.Emit(name, Update{WatchID: id, Type: UpdateError, Error: err.Error()})
		},
	})

	s.mu.Lock()
	if err := s.ctx.Err(); err != nil {
		s.mu.Unlock()
		sub.Close()
		return "", fmt.Errorf("live updates stopped: %w", err)
	}
	s.watches[id] = &watch{
		info: WatchInfo{ID: id, ProfileID: profileID, Path: path},
		sub:  sub,
	}
	s.mu.Unlock()

	sub.Connect()
	zap.S().Infof("Watching %s on profile %s (%s)", path, profileID, id)
	return id, nil
}

// Unwatch closes one watch
func (s *Service) Unwatch(watchID string) error {
	s.mu.Lock()
	w, ok := s.watches[watchID]
	delete(s.watches, watchID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("watch not found: %s", watchID)
	}
	w.sub.Close()
	return nil
}

// UnwatchAll closes every watch. Called on shutdown.
func (s *Service) UnwatchAll() {
	s.mu.Lock()
	watches := s.watches
	s.watches = make(map[string]*watch)
	s.mu.Unlock()

	for _, w := range watches {
		w.sub.Close()
	}
}

// ListWatches returns open watches ordered by path
func (s *Service) ListWatches() []WatchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WatchInfo, 0, len(s.watches))
	for _, w := range s.watches {
		info := w.info
		info.State = w.sub.State()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].ID < out[j].ID
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// cleanPath accepts a backend-relative stream path
func cleanPath(path string) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("stream path is required")
	}
	if strings.Contains(path, "://") {
		return "", fmt.Errorf("stream path must be relative to the profile base URL")
	}
	for _, seg := range strings.Split(strings.SplitN(path, "?", 2)[0], "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("invalid stream path %q", path)
		}
	}
	return path, nil
}
