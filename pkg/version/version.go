// Package version exposes the build version, set with -ldflags at release time.
package version

//nolint:gochecknoglobals // overwritten by -ldflags "-X"
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// GetVersion returns the semantic version of this build.
func GetVersion() string {
	return version
}

// GetGitCommit returns the commit the build was made from.
func GetGitCommit() string {
	return gitCommit
}

// GetBuildDate returns the build timestamp.
func GetBuildDate() string {
	return buildDate
}
