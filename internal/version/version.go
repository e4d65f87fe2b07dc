// Package version reports how the screenrelay binary was built.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set with -ldflags "-X github.com/babelcloud/screenrelay/internal/version.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
	GoVersion string
	Platform  string
}

// Info collects the build metadata.
func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    CommitID,
		BuildTime: displayTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("screenrelay %s (%s, built %s, %s %s)", b.Version, b.Commit, b.BuildTime, b.GoVersion, b.Platform)
}

// displayTime renders an RFC 3339 build stamp for humans and passes
// anything else through.
func displayTime(stamp string) string {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return stamp
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
