//go:build linux

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/layer"
)

func writeSleepHelper(t *testing.T, seconds int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sleep-helper.sh")
	script := "#!/bin/sh\nsleep " + itoa(seconds) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestAssembleInlineUnknownEnvironment(t *testing.T) {
	e := NewEngine("/bin/true", assemble.Options{})
	if err := e.AssembleInline(context.Background(), "missing"); err == nil {
		t.Fatal("AssembleInline: want error for unregistered environment")
	}
}

func TestNamespaceFDAbsentByDefault(t *testing.T) {
	e := NewEngine("/bin/true", assemble.Options{})
	e.Register(layer.Environment{Name: "base"})
	if _, ok := e.NamespaceFD("base"); ok {
		t.Fatal("NamespaceFD: want false before any async setup completes")
	}
}

func TestBeginAsyncSetupRejectsSecondCallWhilePending(t *testing.T) {
	helper := writeSleepHelper(t, 2)
	e := NewEngine(helper, assemble.Options{})
	e.Register(layer.Environment{Name: "base"})

	if err := e.BeginAsyncSetup("base"); err != nil {
		t.Fatalf("first BeginAsyncSetup: %v", err)
	}
	defer func() {
		_ = e.WaitAsyncSetup("base")
	}()

	if err := e.BeginAsyncSetup("base"); err == nil {
		t.Fatal("second BeginAsyncSetup: want protocol error while first is pending")
	}
}

func TestBeginAsyncSetupUnknownEnvironment(t *testing.T) {
	e := NewEngine("/bin/true", assemble.Options{})
	if err := e.BeginAsyncSetup("missing"); err == nil {
		t.Fatal("BeginAsyncSetup: want error for unregistered environment")
	}
}

func TestWaitAsyncSetupWithoutPendingFails(t *testing.T) {
	e := NewEngine("/bin/true", assemble.Options{})
	e.Register(layer.Environment{Name: "base"})
	if err := e.WaitAsyncSetup("base"); err == nil {
		t.Fatal("WaitAsyncSetup: want error when nothing is pending")
	}
}

func TestReapHelperMarksFailedOnHelperExit(t *testing.T) {
	// /bin/true exits 0 immediately without ever sending a namespace fd,
	// so the parent's recvNamespaceFD fails and the environment is
	// marked Failed rather than hanging forever.
	e := NewEngine("/bin/true", assemble.Options{})
	e.Register(layer.Environment{Name: "base"})

	if err := e.BeginAsyncSetup("base"); err != nil {
		t.Fatalf("BeginAsyncSetup: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.WaitAsyncSetup("base") }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("WaitAsyncSetup: want error, helper never sent a namespace fd")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitAsyncSetup: timed out waiting for helper reap")
	}

	state, _ := e.State("base")
	if state != assemble.Failed {
		t.Errorf("state = %v, want Failed", state)
	}
}
