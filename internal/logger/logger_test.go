package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToZapLevel(t *testing.T) {
	assert.Equal(t, "debug", toZapLevel("debug").String())
	assert.Equal(t, "error", toZapLevel("error").String())
	assert.Equal(t, "warn", toZapLevel("bogus").String())
}

func TestFileLogger(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "logs", "driver.log")
	l := New(Options{Level: "info", Filename: filename})

	l.Debugf("hidden %d", 1)
	l.Infof("connected to %s", "127.0.0.1:2881")
	require.NoError(t, l.sugared.Sync())

	b, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "connected to 127.0.0.1:2881"))
	assert.False(t, strings.Contains(string(b), "hidden"))
}

func TestConfigure(t *testing.T) {
	defer SetOptions(Options{Level: string(LevelWarn)})

	Configure("", "")
	assert.False(t, Enabled(LevelInfo))

	Configure("debug", "")
	assert.True(t, Enabled(LevelDebug))

	SetLoggerLevel(" OFF ")
	assert.False(t, Enabled(LevelError))
}
