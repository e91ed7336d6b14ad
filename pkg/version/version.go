// Package version provides version information for tsqlcompat.
//
// The release process writes the version into version.txt, which is
// embedded at compile time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var versionFile string

// Version is the current version of tsqlcompat.
var Version = strings.TrimSpace(versionFile)

// Full returns the version string with the program name.
func Full() string {
	return "tsqlcompat version " + Version
}
