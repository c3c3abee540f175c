package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		require.NoError(t, Init(level, "text", ""), "level %q", level)
	}
	assert.Error(t, Init("loud", "text", ""))
}

func TestJSONFormatWithFields(t *testing.T) {
	require.NoError(t, Init("info", "json", ""))
	var buf bytes.Buffer
	SetOutput(&buf)

	WithFields(logrus.Fields{"stage": "analyze"}).Info("stage started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "analyze", entry["stage"])
	assert.Equal(t, "stage started", entry["msg"])
}

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pomconv.log")
	require.NoError(t, Init("info", "text", path))
	Infof("written to %s", "file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
