package notifications

import "fmt"

// EventType is a backend event a user can be notified about
type EventType string

const (
	BuildFailed         EventType = "build_failed"
	BuildSucceeded      EventType = "build_succeeded"
	ExtractionCompleted EventType = "extraction_completed"
	ExtractionFailed    EventType = "extraction_failed"
	ScenarioReady       EventType = "scenario_ready"
	ExportCompleted     EventType = "export_completed"
	ExportFailed        EventType = "export_failed"
	QualityAlert        EventType = "quality_alert"
)

// EventTypes lists every notifiable event in display order
var EventTypes = []EventType{
	BuildFailed,
	BuildSucceeded,
	ExtractionCompleted,
	ExtractionFailed,
	ScenarioReady,
	ExportCompleted,
	ExportFailed,
	QualityAlert,
}

func (e EventType) Valid() bool {
	for _, known := range EventTypes {
		if e == known {
			return true
		}
	}
	return false
}

// Channel names one delivery channel
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
)

// Channels is the delivery toggle set of one event type
type Channels struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
	Slack bool `json:"slack"`
}

// Set toggles one channel
func (c *Channels) Set(ch Channel, enabled bool) error {
	switch ch {
	case ChannelInApp:
		c.InApp = enabled
	case ChannelEmail:
		c.Email = enabled
	case ChannelSlack:
		c.Slack = enabled
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
	return nil
}

// DefaultChannels is what an event type gets when the backend has no entry
func DefaultChannels(e EventType) Channels {
	switch e {
	case BuildFailed, ExtractionFailed, ExportFailed, QualityAlert:
		return Channels{InApp: true, Email: true}
	default:
		return Channels{InApp: true}
	}
}

// Preferences maps every event type to its channels
type Preferences map[EventType]Channels

// Defaults returns preferences with every event type at its default
func Defaults() Preferences {
	p := make(Preferences, len(EventTypes))
	for _, e := range EventTypes {
		p[e] = DefaultChannels(e)
	}
	return p
}

// Validate rejects unknown event types
func (p Preferences) Validate() error {
	for e := range p {
		if !e.Valid() {
			return fmt.Errorf("unknown event type %q", e)
		}
	}
	return nil
}

// complete fills event types missing from p with defaults
func (p Preferences) complete() Preferences {
	out := Defaults()
	for e, ch := range p {
		out[e] = ch
	}
	return out
}

// wirePreferences is the backend envelope. Keys stay strings so that event
// types added server-side do not fail decoding.
type wirePreferences struct {
	Preferences map[string]Channels `json:"preferences"`
}

func (w wirePreferences) known() (Preferences, []string) {
	p := make(Preferences, len(w.Preferences))
	var unknown []string
	for key, ch := range w.Preferences {
		e := EventType(key)
		if !e.Valid() {
			unknown = append(unknown, key)
			continue
		}
		p[e] = ch
	}
	return p, unknown
}
