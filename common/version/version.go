package version

import (
	"github.com/blang/semver"
)

var CURRENT_VERSION = semver.MustParse("0.4.0")

// a daemon is compatible when it shares the client's major and minor version
func Compatible(daemon semver.Version) bool {
	return daemon.Major == CURRENT_VERSION.Major && daemon.Minor == CURRENT_VERSION.Minor
}
