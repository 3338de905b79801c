package config

import "fmt"

// Set with -ldflags "-X modelpass/internal/config.version=...". The defaults
// identify an unstamped local build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reads the linker-stamped build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent is the User-Agent sent to upstream APIs, e.g.
// "ModelPass/1.4.0 (abc1234)". Unstamped builds send "ModelPass/dev".
func (b BuildInfo) UserAgent() string {
	v := b.Version
	if v == "" {
		v = "dev"
	}
	if b.Commit == "" || b.Commit == "none" {
		return "ModelPass/" + v
	}
	return fmt.Sprintf("ModelPass/%s (%s)", v, b.Commit)
}
