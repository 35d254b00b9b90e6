package buildinfo

import "fmt"

// These values are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("khctl version=%s commit=%s date=%s", Version, Commit, Date)
}

// UserAgent is sent with every User API request.
func UserAgent() string {
	return "khctl/" + Version
}
