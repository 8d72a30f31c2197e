package utils

import (
	"io"
	"log/slog"
)

// CloseAndLog closes a resource and logs any error. This is useful for defer statements
// where the error cannot be meaningfully handled except by logging.
// Example: defer utils.CloseAndLog(wh, logger)
func CloseAndLog(closer io.Closer, logger *slog.Logger) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Error("deferred close failed", "error", err)
	}
}
