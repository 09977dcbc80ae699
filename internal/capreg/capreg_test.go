package capreg

import (
	"path/filepath"
	"testing"

	"github.com/wormholefs/wormhole/internal/capability"
)

func mustParse(t *testing.T, s string) capability.Capability {
	t.Helper()
	c, err := capability.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return c
}

func TestRegisterAndResolve(t *testing.T) {
	dir := t.TempDir()
	reg := Open(filepath.Join(dir, "registry"))

	configDir := t.TempDir()
	cfgOld := filepath.Join(configDir, "old.conf")
	cfgNew := filepath.Join(configDir, "new.conf")

	if err := reg.Register(mustParse(t, "python3-devel-3.7.9"), cfgOld); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(mustParse(t, "python3-devel-3.8.1"), cfgNew); err != nil {
		t.Fatal(err)
	}

	target, matched, err := reg.Resolve(mustParse(t, "python3-devel-3.8"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target != cfgNew {
		t.Errorf("Resolve target = %q, want %q", target, cfgNew)
	}
	if matched.String() != "python3-devel-3.8.1" {
		t.Errorf("matched = %q, want python3-devel-3.8.1", matched.String())
	}
}

func TestResolveNoMatch(t *testing.T) {
	dir := t.TempDir()
	reg := Open(filepath.Join(dir, "registry"))

	if err := reg.Register(mustParse(t, "python3-devel-3.6.0"), "/irrelevant"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := reg.Resolve(mustParse(t, "python3-devel-3.8")); err == nil {
		t.Fatal("Resolve: want error, no candidate satisfies the requirement")
	}
}

func TestUnregister(t *testing.T) {
	dir := t.TempDir()
	reg := Open(filepath.Join(dir, "registry"))

	c := mustParse(t, "libfoo-1.0")
	if err := reg.Register(c, "/cfg"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Unregister(c); err != nil {
		t.Fatal(err)
	}

	candidates, err := reg.Candidates("libfoo")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Errorf("Candidates after Unregister = %v, want empty", candidates)
	}
}
