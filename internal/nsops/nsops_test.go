//go:build linux

package nsops

import (
	"os"
	"runtime"
	"testing"
)

// TestCreateUserNamespace exercises the identity-map path. It requires
// unprivileged user namespaces to be enabled on the test host; environments
// that disable them (some container runtimes, some CI sandboxes) are
// skipped rather than failed.
//
// Unshare(CLONE_NEWUSER) affects only the calling OS thread, so the test
// locks itself to one for the duration of the call.
func TestCreateUserNamespace(t *testing.T) {
	if os.Getenv("WORMHOLE_SKIP_NS_TESTS") != "" {
		t.Skip("namespace tests disabled via WORMHOLE_SKIP_NS_TESTS")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	id, err := CreateUserNamespace()
	if err != nil {
		t.Skipf("user namespaces unavailable in this environment: %v", err)
	}
	if id.UID != os.Getuid() || id.GID != os.Getgid() {
		t.Errorf("Identity = %+v, want uid=%d gid=%d", id, os.Getuid(), os.Getgid())
	}
}
