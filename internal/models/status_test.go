package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusDecoding(t *testing.T) {
	var build struct {
		Status BuildStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"running"}`), &build))
	assert.Equal(t, BuildRunning, build.Status)
	assert.Error(t, json.Unmarshal([]byte(`{"status":"exploded"}`), &build))

	var extraction ExtractionStatus
	require.NoError(t, json.Unmarshal([]byte(`"partial"`), &extraction))
	assert.Equal(t, ExtractionPartial, extraction)
	assert.Error(t, json.Unmarshal([]byte(`"success"`), &extraction), "build values are not extraction values")

	var scenario ScenarioStatus
	assert.Error(t, json.Unmarshal([]byte(`3`), &scenario))
	require.NoError(t, json.Unmarshal([]byte(`"ready"`), &scenario))
	assert.True(t, scenario.Valid())
	assert.False(t, ScenarioStatus("running").Valid())
}
