package utils

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "Unrecognized name: nope at [3:5]",
		LastLine("googleapi: Error 400: query failed\n\nselect nope\nUnrecognized name: nope at [3:5]\n"))
	assert.Equal(t, "single", LastLine("single"))
	assert.Equal(t, "b", LastLine("a\nb\n  \n\t\n"))
	assert.Empty(t, LastLine(""))
	assert.Empty(t, LastLine("\n \n"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false)
	logger.Debug("hidden")
	logger.Info("submitted", "table", "campaign_history", "job", "")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "submitted")
	assert.Contains(t, out, "campaign_history")
	assert.NotContains(t, out, "job=")

	buf.Reset()
	NewLogger(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
