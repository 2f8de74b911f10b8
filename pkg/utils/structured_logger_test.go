package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructuredLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  DEBUG,
		Output: &buf,
		Format: FormatText,
	})

	assert.Equal(t, DEBUG, logger.GetLevel())

	logger.Debug("debug message")
	assert.Contains(t, buf.String(), "debug message")
}

func TestNewStructuredLoggerNilConfig(t *testing.T) {
	logger := NewStructuredLogger(nil)
	assert.Equal(t, INFO, logger.GetLevel())
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
	})

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug must be filtered at INFO")

	for _, tc := range []struct {
		name string
		log  func(string, ...map[string]interface{})
	}{
		{"info message", logger.Info},
		{"warn message", logger.Warn},
		{"error message", logger.Error},
	} {
		buf.Reset()
		tc.log(tc.name)
		assert.Contains(t, buf.String(), tc.name)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStructuredLogger(&StructuredLoggerConfig{Level: DEBUG, Output: &buf})
	logger.SetLevel(ERROR)

	logger.Warn("dropped")
	assert.Zero(t, buf.Len())
	assert.Equal(t, ERROR, logger.GetLevel())

	logger.Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestJSONFormatWithFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
		Format: FormatJSON,
	}).WithComponent("cache")

	logger.Info("entry stored", map[string]interface{}{"resource": "orders-list", "ttl_ms": 90000})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	assert.Equal(t, "entry stored", decoded["msg"])
	assert.Equal(t, "cache", decoded["component"])
	assert.Equal(t, "orders-list", decoded["resource"])
	assert.EqualValues(t, 90000, decoded["ttl_ms"])
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	parent := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO, Output: &bytes.Buffer{}})
	child := parent.WithFields(map[string]interface{}{"a": 1}).WithField("b", 2)

	assert.Empty(t, parent.Fields())
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, child.Fields())
}

func TestFormattedHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{Level: DEBUG, Output: &buf})

	logger.Warnf("threshold %s exceeded by %d", "load-time", 3)
	assert.True(t, strings.Contains(buf.String(), "threshold load-time exceeded by 3"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing to see")
	logger.WithComponent("x").Info("still nothing")
}
