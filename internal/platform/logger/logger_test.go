package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", ServiceName: "approvals", Version: "1.2.3", Output: &buf})

	log.Named("engine").Debug().Str("entity_id", "p-1").Msg("Approval submitted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "approvals", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "p-1", line["entity_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "not-a-level", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
