package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockCloser struct {
	shouldFail bool
	closed     bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	if m.shouldFail {
		return errors.New("mock close error")
	}
	return nil
}

func TestCloseAndLog(t *testing.T) {
	t.Run("nil closer should not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			CloseAndLog(nil, nil)
		})
	})

	t.Run("successful close", func(t *testing.T) {
		var buf bytes.Buffer
		closer := &mockCloser{}
		CloseAndLog(closer, slog.New(slog.NewTextHandler(&buf, nil)))
		assert.True(t, closer.closed)
		assert.Empty(t, buf.String())
	})

	t.Run("failed close logs error", func(t *testing.T) {
		var buf bytes.Buffer
		closer := &mockCloser{shouldFail: true}
		CloseAndLog(closer, slog.New(slog.NewTextHandler(&buf, nil)))
		assert.True(t, closer.closed, "Close should have been called even though it failed")
		assert.Contains(t, buf.String(), "mock close error")
	})
}
