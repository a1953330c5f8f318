package core

// Build information, injected with
//
//	go build -ldflags "-X easyretouch/core.Version=$(git describe --tags --always) \
//	  -X easyretouch/core.GitCommit=$(git rev-parse --short HEAD) \
//	  -X easyretouch/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersionInfo returns e.g. "v1.2.0 (built 2026-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
