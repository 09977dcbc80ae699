package pathstate

import (
	"strings"
	"testing"
)

func TestLookupTotality(t *testing.T) {
	tr := New()

	h, ok := tr.Lookup("/usr/bin/yast2", true)
	if !ok {
		t.Fatalf("Lookup(create=true) returned ok=false")
	}
	if got, want := tr.Path(h), "/usr/bin/yast2"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}

	// A path never created is not found without create.
	if _, ok := tr.Lookup("/etc/passwd", false); ok {
		t.Errorf("Lookup(create=false) on untouched path returned ok=true")
	}

	// The prefix created implicitly above is now findable without create.
	if _, ok := tr.Lookup("/usr/bin", false); !ok {
		t.Errorf("Lookup(create=false) on an implicitly-created ancestor returned ok=false")
	}
}

func TestSetAndGet(t *testing.T) {
	tr := New()
	tr.Set("/sbin/yast2", BindMounted, nil)

	d, ok := tr.Get("/sbin/yast2")
	if !ok || d != BindMounted {
		t.Fatalf("Get() = (%v, %v), want (BindMounted, true)", d, ok)
	}

	tr.Clear("/sbin/yast2")
	d, ok = tr.Get("/sbin/yast2")
	if !ok || d != Unchanged {
		t.Fatalf("Get() after Clear = (%v, %v), want (Unchanged, true)", d, ok)
	}
}

func TestSetReplacesPayload(t *testing.T) {
	tr := New()
	h := tr.Set("/usr", OverlayMounted, OverlayPayload{Upperdir: "/tmp/up1"})
	if p := tr.OverlayPayloadAt(h); p == nil || p.Upperdir != "/tmp/up1" {
		t.Fatalf("unexpected overlay payload: %+v", p)
	}

	tr.Set("/usr", SystemMount, SystemMountPayload{FSType: "tmpfs"})
	if p := tr.OverlayPayloadAt(h); p != nil {
		t.Errorf("overlay payload not cleared after Set with new disposition: %+v", p)
	}
	if p := tr.SystemMountPayload(h); p == nil || p.FSType != "tmpfs" {
		t.Errorf("unexpected system-mount payload: %+v", p)
	}
}

func TestWalkSkipsUnchanged(t *testing.T) {
	tr := New()
	tr.Set("/usr/bin/foo", BindMounted, nil)
	tr.Set("/usr/lib/bar", BindMounted, nil)

	var got []string
	tr.Walk(func(e Entry) bool {
		got = append(got, e.Path)
		return false
	})

	want := []string{"/usr/bin/foo", "/usr/lib/bar"}
	if len(got) != len(want) {
		t.Fatalf("Walk yielded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Walk()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWalkSkipChildren(t *testing.T) {
	tr := New()
	tr.Set("/usr", OverlayMounted, nil)
	tr.Set("/usr/bin/foo", BindMounted, nil)

	var got []string
	tr.Walk(func(e Entry) bool {
		got = append(got, e.Path)
		return e.Path == "/usr" // skip descending into /usr
	})

	if len(got) != 1 || got[0] != "/usr" {
		t.Fatalf("Walk() with skip-children = %v, want [\"/usr\"]", got)
	}
}

func TestRootDirectory(t *testing.T) {
	tr := New()
	if got := tr.RootDirectory(); got != "" {
		t.Fatalf("RootDirectory() before Set = %q, want empty", got)
	}
	tr.SetRootDirectory("/var/lib/wormhole/roots/abc")
	if got, want := tr.RootDirectory(), "/var/lib/wormhole/roots/abc"; got != want {
		t.Errorf("RootDirectory() = %q, want %q", got, want)
	}
}

func TestDumpIncludesRoot(t *testing.T) {
	tr := New()
	tr.Set("/a/b", BindMounted, nil)
	dump := tr.Dump()
	if !strings.HasPrefix(dump, "/ (Unchanged)\n") {
		t.Fatalf("Dump() = %q, want it to start with the root line", dump)
	}
}
