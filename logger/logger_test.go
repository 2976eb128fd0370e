package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomFormatter(t *testing.T) {
	l := logrus.New()
	entry := logrus.NewEntry(l).WithFields(logrus.Fields{"tx": 7, "page": "t1/leaf/3"})
	entry.Time = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	entry.Level = logrus.WarnLevel
	entry.Message = "steal eviction"

	out, err := (&CustomFormatter{}).Format(entry)
	require.NoError(t, err)
	line := string(out)
	assert.Contains(t, line, "[15:04:05 UTC 2024/01/02] [WARN]")
	assert.Contains(t, line, "steal eviction page=t1/leaf/3 tx=7\n")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, parseLogLevel("bogus"))
}

func TestInitLoggerWritesFile(t *testing.T) {
	path := t.TempDir() + "/logs/info.log"
	require.NoError(t, InitLogger(LogConfig{InfoLogPath: path, LogLevel: "info"}))

	var buf bytes.Buffer
	InfoLogger.SetOutput(&buf)
	Infof("opened %d tables", 3)
	assert.Contains(t, buf.String(), "opened 3 tables")
	assert.FileExists(t, path)
}
