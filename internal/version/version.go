// Package version holds build and protocol version information.
package version

import "runtime"

// These variables can be overridden at build time using ldflags:
// go build -ldflags "-X codeoverlay/internal/version.Version=0.4.0 -X codeoverlay/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the engine
	Version = "0.3.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// ProtocolVersion is bumped on incompatible changes to the editor message
// schema.
const ProtocolVersion = 1

// BuildInfo is the structured form printed by `codeoverlay version`.
type BuildInfo struct {
	Version         string `json:"version" yaml:"version"`
	Commit          string `json:"commit" yaml:"commit"`
	BuildDate       string `json:"buildDate" yaml:"buildDate"`
	ProtocolVersion int    `json:"protocolVersion" yaml:"protocolVersion"`
	GoVersion       string `json:"goVersion" yaml:"goVersion"`
}

// Get returns the current build info.
func Get() BuildInfo {
	return BuildInfo{
		Version:         Version,
		Commit:          Commit,
		BuildDate:       BuildDate,
		ProtocolVersion: ProtocolVersion,
		GoVersion:       runtime.Version(),
	}
}

// Info returns a short version string, with the abbreviated commit when known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}
