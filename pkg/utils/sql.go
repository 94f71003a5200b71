// Package utils contains small helpers shared by the other packages.
package utils

import "strings"

// QuoteIdent returns a PostgreSQL-quoted identifier with embedded quotes escaped.
// Example: My"Tbl -> "My""Tbl"
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteTable returns a fully-qualified, quoted table name: "schema"."table".
func QuoteTable(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// QuoteJoinIdents quotes each identifier and joins them with comma+space.
func QuoteJoinIdents(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = QuoteIdent(id)
	}
	return strings.Join(q, ", ")
}

// QuoteLiteral returns a single-quoted SQL string literal with embedded quotes escaped.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
