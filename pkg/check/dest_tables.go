package check

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/block/pgcutover/pkg/table"
)

func init() {
	registerCheck("dest_tables", destTablesCheck, ScopePreflight)
}

// destTablesCheck validates that every source table of the schema exists
// on the destination. A missing table would only surface as a failed count
// while the source is already locked.
func destTablesCheck(ctx context.Context, r Resources, logger *slog.Logger) error {
	if r.SourceDB == nil || r.DestDB == nil {
		return nil
	}
	sourceTables, err := table.NewIntrospector(r.SourceDB).TablesInSchema(ctx, r.Schema)
	if err != nil {
		return fmt.Errorf("failed to list source tables: %w", err)
	}
	destTables, err := table.NewIntrospector(r.DestDB).TablesInSchema(ctx, r.Schema)
	if err != nil {
		return fmt.Errorf("failed to list destination tables: %w", err)
	}
	onDest := make(map[string]bool, len(destTables))
	for _, t := range destTables {
		onDest[t] = true
	}
	var missing []string
	for _, tbl := range table.TableInfos(r.Schema, sourceTables) {
		if !onDest[tbl.TableName] {
			missing = append(missing, tbl.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("tables missing on destination %s: %s", r.Dest.Short(), strings.Join(missing, ", "))
	}
	logger.Debug("all source tables exist on destination", "tables", len(sourceTables))
	return nil
}
