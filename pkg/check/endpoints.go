package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

func init() {
	registerCheck("distinct_endpoints", distinctEndpointsCheck, ScopePreRun)
}

// Pointing source and destination at the same database makes every count
// match immediately, which would report a cutover as safe when it is not.
func distinctEndpointsCheck(_ context.Context, r Resources, _ *slog.Logger) error {
	if r.Source.IsZero() || r.Dest.IsZero() {
		return errors.New("source and destination are required")
	}
	if r.Source.Short() == r.Dest.Short() {
		return fmt.Errorf("source and destination are the same database: %s", r.Source.Short())
	}
	return nil
}
