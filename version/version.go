package version

import "fmt"

// overwritten by ldflags on release builds
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	FullVersion = fmt.Sprintf("%s (%s) built %s", Version, GitCommit, BuildDate)
)
