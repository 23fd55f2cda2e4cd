// Package buildinfo holds version metadata stamped at link time:
//
//	go build -ldflags "-X github.com/modoterra/devconsole/internal/buildinfo.Version=v0.3.0 ..."
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func init() {
	if Version != "dev" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		Version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "none" && len(s.Value) >= 7 {
				Commit = s.Value[:7]
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		}
	}
}

// String formats the version line printed by the version commands.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s) built %s", program, Version, Commit, Date)
}
