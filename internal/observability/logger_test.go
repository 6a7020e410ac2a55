package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/packd/internal/config"
)

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
		logger.Info("hello", "component", "test")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "hello", entry["msg"])
		assert.Equal(t, "test", entry["component"])
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
		logger.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
		logger.Info("dropped")
		logger.Warn("kept")
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})
}

func TestLogger_RedactsSensitiveAttrs(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		secret string
	}{
		{"key attribute", "key", "00112233445566778899aabbccddeeff"},
		{"key_id attribute", "key_id", "ffeeddccbbaa99887766554433221100"},
		{"iv attribute", "iv", "0123456789abcdef"},
		{"pssh attribute", "pssh", "AAAAW3Bzc2g"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
			logger.Info("packaging", tt.key, tt.secret)

			assert.NotContains(t, buf.String(), tt.secret)
			assert.Contains(t, buf.String(), RedactedPlaceholder)
		})
	}
}

func TestLogger_RedactsStructFields(t *testing.T) {
	type keyData struct {
		Key   string
		KeyID string
		Label string
	}

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Info("generated", "data", keyData{
		Key:   "00112233445566778899aabbccddeeff",
		KeyID: "ffeeddccbbaa99887766554433221100",
		Label: "HLS",
	})

	out := buf.String()
	assert.NotContains(t, out, "00112233445566778899aabbccddeeff")
	assert.NotContains(t, out, "ffeeddccbbaa99887766554433221100")
	assert.Contains(t, out, "HLS")
}

func TestWithComponentAndJobID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithJobID(WithComponent(logger, "upload"), "job-123").Info("working")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "upload", entry["component"])
	assert.Equal(t, "job-123", entry["job_id"])
}
