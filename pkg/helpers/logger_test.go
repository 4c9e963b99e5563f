package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("svc", "development", "").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("svc", "production", "").GetLevel())
	assert.Equal(t, logrus.WarnLevel, NewLogger("svc", "production", "warn").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("svc", "production", "loud").GetLevel())
}

func TestNewLoggerTagsApp(t *testing.T) {
	l := NewLogger("onboarding-worker", "production", "")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("user_id", "u1").Info("stage done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "onboarding-worker", line["app"])
	assert.Equal(t, "u1", line["user_id"])
}
