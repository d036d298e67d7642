package models

import (
	"encoding/json"
	"fmt"
)

// BuildStatus is the state of a CI build ingested by the backend
type BuildStatus string

const (
	BuildQueued    BuildStatus = "queued"
	BuildRunning   BuildStatus = "running"
	BuildSuccess   BuildStatus = "success"
	BuildFailure   BuildStatus = "failure"
	BuildCancelled BuildStatus = "cancelled"
)

func (s BuildStatus) Valid() bool {
	switch s {
	case BuildQueued, BuildRunning, BuildSuccess, BuildFailure, BuildCancelled:
		return true
	}
	return false
}

func (s *BuildStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "build status", func(v string) bool {
		if !BuildStatus(v).Valid() {
			return false
		}
		*s = BuildStatus(v)
		return true
	})
}

// ExtractionStatus is the state of a dataset feature extraction
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionRunning    ExtractionStatus = "running"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
	ExtractionPartial    ExtractionStatus = "partial"
	ExtractionNotStarted ExtractionStatus = "not_started"
)

func (s ExtractionStatus) Valid() bool {
	switch s {
	case ExtractionPending, ExtractionRunning, ExtractionCompleted,
		ExtractionFailed, ExtractionPartial, ExtractionNotStarted:
		return true
	}
	return false
}

func (s *ExtractionStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "extraction status", func(v string) bool {
		if !ExtractionStatus(v).Valid() {
			return false
		}
		*s = ExtractionStatus(v)
		return true
	})
}

// ScenarioStatus is the lifecycle of a training scenario
type ScenarioStatus string

const (
	ScenarioDraft      ScenarioStatus = "draft"
	ScenarioQueued     ScenarioStatus = "queued"
	ScenarioGenerating ScenarioStatus = "generating"
	ScenarioReady      ScenarioStatus = "ready"
	ScenarioFailed     ScenarioStatus = "failed"
)

func (s ScenarioStatus) Valid() bool {
	switch s {
	case ScenarioDraft, ScenarioQueued, ScenarioGenerating, ScenarioReady, ScenarioFailed:
		return true
	}
	return false
}

func (s *ScenarioStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "scenario status", func(v string) bool {
		if !ScenarioStatus(v).Valid() {
			return false
		}
		*s = ScenarioStatus(v)
		return true
	})
}

func unmarshalEnum(data []byte, kind string, set func(string) bool) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid %s: %w", kind, err)
	}
	if !set(raw) {
		return fmt.Errorf("unknown %s %q", kind, raw)
	}
	return nil
}
