package utils

import (
	"context"
	"log/slog"
)

// Closer is satisfied by *sql.DB, *sql.Rows and most io.Closers.
type Closer interface {
	Close() error
}

// ContextCloser is satisfied by resources whose release needs a context,
// such as *pgx.Conn and the source session.
type ContextCloser interface {
	Close(context.Context) error
}

// CloseAndLog closes a resource and logs any error. It is meant for defer
// statements where the error cannot be handled any other way.
// A nil logger falls back to slog.Default().
//
//	defer utils.CloseAndLog(logger, "introspection db", db)
func CloseAndLog(logger *slog.Logger, what string, closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		loggerOrDefault(logger).Error("deferred close failed", "resource", what, "error", err)
	}
}

// CloseAndLogWithContext is CloseAndLog for resources that take a context.
func CloseAndLogWithContext(ctx context.Context, logger *slog.Logger, what string, closer ContextCloser) {
	if closer == nil {
		return
	}
	if err := closer.Close(ctx); err != nil {
		loggerOrDefault(logger).ErrorContext(ctx, "deferred close failed", "resource", what, "error", err)
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
