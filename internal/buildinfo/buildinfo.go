// Package buildinfo reports which Memu build is running. Release builds
// stamp the variables with -ldflags "-X"; plain `go build` binaries fall
// back to the VCS data the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set by the release build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fillFromVCS(bi.Settings)
}

// fillFromVCS copies vcs.revision and vcs.time into variables the
// linker left unset.
func fillFromVCS(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if GitCommit == "unknown" && len(s.Value) >= 12 {
				GitCommit = s.Value[:12]
			}
		case "vcs.time":
			if BuildTime == "unknown" {
				BuildTime = s.Value
			}
		}
	}
}

// Info is the /v1/version body and the `memu version` listing.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent identifies Memu to the homeserver and household services.
func UserAgent() string {
	return "memu-bot/" + Version + " (+https://memu.digital)"
}

func String() string {
	return fmt.Sprintf("Memu %s (%s) built %s", Version, GitCommit, BuildTime)
}
