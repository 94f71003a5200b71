package dbconn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-ini/ini"
)

// ErrUnknownService is returned when a pg_service.conf has no such section.
var ErrUnknownService = errors.New("service not found in service file")

// DefaultServiceFile follows libpq: $PGSERVICEFILE, else ~/.pg_service.conf.
func DefaultServiceFile() string {
	if f := os.Getenv("PGSERVICEFILE"); f != "" {
		return f
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pg_service.conf")
}

// ServiceDSN reads section name of a pg_service.conf file and returns it as
// a key/value descriptor. Keeping the resolution on our side means the same
// credentials reach pgx, lib/pq and the client binaries.
func ServiceDSN(file, name string) (DSN, error) {
	if file == "" {
		file = DefaultServiceFile()
	}
	cfg, err := ini.Load(file)
	if err != nil {
		return DSN{}, fmt.Errorf("could not read service file %s: %w", file, err)
	}
	if !cfg.HasSection(name) {
		return DSN{}, fmt.Errorf("%w: %q in %s", ErrUnknownService, name, file)
	}
	section := cfg.Section(name)
	keys := section.KeyStrings()
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteKVValue(section.Key(k).String()))
	}
	return ParseDSN(strings.Join(parts, " "))
}

// quoteKVValue quotes a key/value connection string value when it needs it.
func quoteKVValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ReadDSNFile reads a descriptor stored in a file, such as a mounted secret.
func ReadDSNFile(path string) (DSN, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return DSN{}, fmt.Errorf("could not read connection file: %w", err)
	}
	return ParseDSN(string(content))
}
