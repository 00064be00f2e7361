package version

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/memoryd/internal/version.Version=v1.0.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version with commit for CLI output.
func String() string {
	if GitCommit == "unknown" || GitCommit == "" {
		return Version
	}
	return Version + " (" + GitCommit + ")"
}
