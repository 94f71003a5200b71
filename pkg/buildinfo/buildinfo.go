// Package buildinfo reports which pgcutover binary is running.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"sync"
)

type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
	GoVer    string
}

func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("pgcutover %s (commit %s, built %s, %s)", i.Version, commit, i.Date, i.GoVer)
}

var (
	linked Info

	once   sync.Once
	cached Info
)

// Set records the -X main.version/commit/date values. Empty values leave
// the VCS stamp in place.
func Set(version, commit, date string) {
	linked = Info{Version: version, Commit: commit, Date: date}
}

func Get() Info {
	once.Do(func() {
		cached = resolve(debug.ReadBuildInfo)
	})
	return cached
}

func resolve(read func() (*debug.BuildInfo, bool)) Info {
	info := Info{Version: "dev", Commit: "unknown", Date: "unknown"}
	if bi, ok := read(); ok {
		fromBuildInfo(&info, bi)
	}
	override(&info.Version, linked.Version)
	override(&info.Commit, linked.Commit)
	override(&info.Date, linked.Date)
	return info
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fromBuildInfo(info *Info, bi *debug.BuildInfo) {
	info.GoVer = bi.GoVersion
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.Date = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}
