package check

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

func init() {
	registerCheck("binaries", binariesCheck, ScopePreRun)
}

// binariesCheck fails early when psql or pg_dump cannot be found, rather
// than after the source tables are locked.
func binariesCheck(_ context.Context, r Resources, _ *slog.Logger) error {
	for _, bin := range []string{r.PSQL, r.PgDump} {
		if bin == "" {
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("client binary %s not found: %w", bin, err)
		}
	}
	return nil
}
