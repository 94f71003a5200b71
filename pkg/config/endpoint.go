package config

import (
	"fmt"

	"github.com/block/pgcutover/pkg/dbconn"
)

// Endpoint is one side's connection as given on the command line: a DSN,
// a file holding one, or a pg_service.conf service name. At most one may
// be set.
type Endpoint struct {
	DSN     string
	File    string
	Service string
}

// Resolve returns the DSN of the endpoint, or "" if none was given.
// serviceFile defaults to dbconn.DefaultServiceFile().
func (e Endpoint) Resolve(serviceFile string) (string, error) {
	set := 0
	for _, v := range []string{e.DSN, e.File, e.Service} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return "", fmt.Errorf("%w: only one of a DSN, a DSN file or a service may be given", ErrInvalidConfig)
	}
	switch {
	case e.File != "":
		dsn, err := dbconn.ReadDSNFile(e.File)
		if err != nil {
			return "", err
		}
		return dsn.Raw(), nil
	case e.Service != "":
		dsn, err := dbconn.ServiceDSN(serviceFile, e.Service)
		if err != nil {
			return "", err
		}
		return dsn.Raw(), nil
	default:
		return e.DSN, nil
	}
}
