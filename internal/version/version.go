// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the short git hash of the build.
	Commit = "unknown"
	// BuildDate is when the binary was produced.
	BuildDate = "unknown"
)
