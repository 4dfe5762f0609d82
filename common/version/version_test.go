package version

import (
	"testing"

	"github.com/blang/semver"
)

func TestCompatible(t *testing.T) {
	if !Compatible(CURRENT_VERSION) {
		t.Fatal("current version must be compatible with itself")
	}
	patched := CURRENT_VERSION
	patched.Patch++
	if !Compatible(patched) {
		t.Fatal("patch bump should stay compatible")
	}
	if Compatible(semver.Version{Major: CURRENT_VERSION.Major + 1}) {
		t.Fatal("major bump should not be compatible")
	}
}
