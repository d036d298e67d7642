package events

import (
	"context"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Emitter pushes named events to the frontend
type Emitter interface {
	Emit(name string, payload interface{})
}

// WailsEmitter forwards events through the Wails runtime bound to ctx
type WailsEmitter struct {
	ctx context.Context
}

// NewWailsEmitter creates an emitter for the application context received at startup
func NewWailsEmitter(ctx context.Context) *WailsEmitter {
	return &WailsEmitter{ctx: ctx}
}

// Emit sends the payload to every frontend listener of name
func (e *WailsEmitter) Emit(name string, payload interface{}) {
	runtime.EventsEmit(e.ctx, name, payload)
}

// Nop discards events. Used by headless callers.
type Nop struct{}

func (Nop) Emit(string, interface{}) {}

// Recorder keeps emitted events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Event is a single recorded emission
type Event struct {
	Name    string
	Payload interface{}
}

func (r *Recorder) Emit(name string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns recorded events with the given name
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
