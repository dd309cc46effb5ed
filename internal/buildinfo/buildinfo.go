// Package buildinfo holds version information injected at build time via
// -ldflags "-X github.com/agentfloor/agentfloor/internal/buildinfo.Version=...".
package buildinfo

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)
