// Package version carries build metadata set through -ldflags.
package version

var (
	Version = "dev"
	Commit  = ""
)

// String returns the version with the commit when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
