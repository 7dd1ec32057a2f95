// Package version reports how the amansearch binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Name is the binary and MCP server name.
const Name = "amansearch"

// Set with -ldflags "-X github.com/Aman-CERP/amansearch/pkg/version.Version=...".
// Left unset, Version, Commit and Date are filled from the module build
// info that `go install` embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	GoVersion = runtime.Version()
)

// BuildInfo is the JSON form of the version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	resolveOnce sync.Once
	modified    bool
)

// resolve fills unset values from debug.ReadBuildInfo.
func resolve() {
	resolveOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			Version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "unknown" {
					Commit = s.Value
				}
			case "vcs.time":
				if Date == "unknown" {
					Date = s.Value
				}
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
	})
}

// String is the one-line version shown by `amansearch version`.
func String() string {
	resolve()
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)", Name, Version, shortCommit(), Date, GoVersion)
}

func shortCommit() string {
	c := Commit
	if len(c) > 12 {
		c = c[:12]
	}
	if modified {
		c += "-dirty"
	}
	return c
}

// Short returns the version alone.
func Short() string {
	resolve()
	return Version
}

// GetInfo returns the structured version.
func GetInfo() BuildInfo {
	resolve()
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Modified:  modified,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
