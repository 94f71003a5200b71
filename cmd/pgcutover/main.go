package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/block/pgcutover/pkg/buildinfo"
	"github.com/block/pgcutover/pkg/catchup"
	"github.com/block/pgcutover/pkg/ddl"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version string
	commit  string
	date    string
)

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println(buildinfo.Get())
	return nil
}

var cli struct {
	WaitForCatchup catchup.Catchup `cmd:"" help:"Lock the source tables and wait until the destination has the same row counts."`
	CopyDDL        ddl.CopyDDL     `cmd:"" name:"copy-ddl" help:"Copy the DDL of a schema from source to destination in one transaction."`
	Version        versionCmd      `cmd:"" help:"Print version information."`
}

func main() {
	buildinfo.Set(version, commit, date)
	ctx := kong.Parse(&cli,
		kong.Name("pgcutover"),
		kong.Description("pgcutover: PostgreSQL logical replication cutover helpers"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
