// Package table lists the tables of a schema.
package table

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/block/pgcutover/pkg/utils"
)

// ErrSchemaNotFound is returned when the schema does not exist at all, as
// opposed to existing with no tables.
var ErrSchemaNotFound = errors.New("schema not found")

// TableInfo names one table of the migrated schema.
type TableInfo struct {
	SchemaName string
	TableName  string
	QuotedName string // "schema"."table"
}

func NewTableInfo(schema, table string) *TableInfo {
	return &TableInfo{
		SchemaName: schema,
		TableName:  table,
		QuotedName: utils.QuoteTable(schema, table),
	}
}

func (t *TableInfo) String() string {
	return t.SchemaName + "." + t.TableName
}

const (
	schemaExistsQuery = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`
	tablesQuery       = `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 ORDER BY tablename`
)

// Introspector enumerates tables over a database/sql connection.
type Introspector struct {
	db *sql.DB
}

func NewIntrospector(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

// TablesInSchema returns the ordinary tables of schema ordered by name.
// A schema without tables yields an empty slice and no error.
func (i *Introspector) TablesInSchema(ctx context.Context, schema string) ([]string, error) {
	var exists bool
	if err := i.db.QueryRowContext(ctx, schemaExistsQuery, schema).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, schema)
	}
	rows, err := i.db.QueryContext(ctx, tablesQuery, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableInfos wraps names into TableInfo values of schema.
func TableInfos(schema string, names []string) []*TableInfo {
	infos := make([]*TableInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, NewTableInfo(schema, n))
	}
	return infos
}
