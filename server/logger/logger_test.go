package logger

import (
	"path/filepath"
	"testing"

	"github.com/Daskott/guardian/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.ErrorLevel, levelFromString("error"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nonsense"))
}

func TestNewProductionLoggerWithFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "guardian.log")

	logg, err := NewProductionLogger(shared.LogConfig{Level: "info", File: logFile})
	require.Nil(t, err)

	logg.Infow("sos triggered", "event_id", "abc")
	assert.FileExists(t, logFile)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
