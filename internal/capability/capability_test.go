package capability

import "testing"

func mustParse(t *testing.T, s string) Capability {
	t.Helper()
	c, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return c
}

func TestParseNameVersionSplit(t *testing.T) {
	for _, tc := range []struct {
		in       string
		wantName string
	}{
		{"python3-devel-3.9.2-rc1", "python3-devel"},
		{"curl-7.78.0", "curl"},
		{"libfoo-1", "libfoo"},
	} {
		c := mustParse(t, tc.in)
		if c.Name != tc.wantName {
			t.Errorf("Parse(%q).Name = %q, want %q", tc.in, c.Name, tc.wantName)
		}
	}
}

func TestParseRejectsNoVersion(t *testing.T) {
	if _, err := Parse("no-version-here"); err == nil {
		t.Error("Parse: want error for a string with no numeric version component")
	}
}

func TestCompareNumeric(t *testing.T) {
	a := mustParse(t, "pkg-1.2")
	b := mustParse(t, "pkg-1.10")
	if Compare(a, b) >= 0 {
		t.Errorf("Compare(1.2, 1.10): want 1.2 < 1.10 (numeric, not lexical)")
	}
}

func TestCompareNoSuffixBeatsSuffix(t *testing.T) {
	a := mustParse(t, "pkg-15")
	b := mustParse(t, "pkg-15rc")
	if Compare(a, b) <= 0 {
		t.Errorf("Compare(15, 15rc): want 15 > 15rc (no suffix beats any suffix)")
	}
}

func TestCompareSuffixLexical(t *testing.T) {
	a := mustParse(t, "pkg-1.0alpha")
	b := mustParse(t, "pkg-1.0beta")
	if Compare(a, b) >= 0 {
		t.Errorf("Compare(1.0alpha, 1.0beta): want alpha < beta lexically")
	}
}

func TestCompareDifferentNamesPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Compare: want panic when names differ")
		}
	}()
	Compare(mustParse(t, "foo-1"), mustParse(t, "bar-1"))
}

func TestSatisfies(t *testing.T) {
	req := mustParse(t, "python3-devel-3.8")
	for _, tc := range []struct {
		candidate string
		want      bool
	}{
		{"python3-devel-3.7.9", false},
		{"python3-devel-3.8.1", true},
		{"python3-devel-3.8.0rc", false}, // 3.8 pads to 3.8.0, which beats any 3.8.0<suffix>
	} {
		c := mustParse(t, tc.candidate)
		if got := c.Satisfies(req); got != tc.want {
			t.Errorf("Satisfies(%q, %q) = %v, want %v", tc.candidate, req, got, tc.want)
		}
	}
}

func TestBestPicksGreatestSatisfying(t *testing.T) {
	req := mustParse(t, "python3-devel-3.8")
	candidates := []Capability{
		mustParse(t, "python3-devel-3.7.9"),
		mustParse(t, "python3-devel-3.8.1"),
		mustParse(t, "python3-devel-3.8.0rc"),
	}

	best, ok := Best(req, candidates)
	if !ok {
		t.Fatal("Best: want a match")
	}
	if best.String() != "python3-devel-3.8.1" {
		t.Errorf("Best = %q, want python3-devel-3.8.1", best.String())
	}
}
