package wormholeconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wormholefs/wormhole/internal/layer"
)

type logLines struct{ lines []string }

func (l *logLines) Printf(format string, args ...any) {
	l.lines = append(l.lines, format)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wormhole.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBasicEnvironment(t *testing.T) {
	path := writeConfig(t, `
# a comment
environment base {
  provides python3-devel-3.9
  define-layer {
    directory /opt/python3.9
    bind /usr/bin/python3
    mount /proc proc
  }
}
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Environments) != 1 {
		t.Fatalf("Environments = %+v, want 1 entry", cfg.Environments)
	}
	env := cfg.Environments[0]
	if env.Name != "base" {
		t.Errorf("Name = %q, want base", env.Name)
	}
	if len(env.Provides) != 1 || env.Provides[0] != "python3-devel-3.9" {
		t.Errorf("Provides = %v", env.Provides)
	}
	if len(env.Layers) != 1 || env.Layers[0].Directory != "/opt/python3.9" {
		t.Fatalf("Layers = %+v", env.Layers)
	}
	if len(env.Layers[0].Paths) != 2 {
		t.Fatalf("Paths = %+v, want 2 directives", env.Layers[0].Paths)
	}
}

func TestLoadResolvesInclude(t *testing.T) {
	dir := t.TempDir()
	included := filepath.Join(dir, "base.conf")
	if err := os.WriteFile(included, []byte(`environment base { define-layer { directory /a } }`), 0o644); err != nil {
		t.Fatal(err)
	}
	top := filepath.Join(dir, "top.conf")
	if err := os.WriteFile(top, []byte(`config base.conf`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(top, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Environments) != 1 || cfg.Environments[0].Name != "base" {
		t.Fatalf("Environments = %+v, want included base environment", cfg.Environments)
	}
}

func TestLoadRewritesLegacyAliases(t *testing.T) {
	path := writeConfig(t, `
environment legacy {
  overlay {
    directory /a
  }
}
environment other {
  layer legacy
}
`)

	logger := &logLines{}
	cfg, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(logger.lines) != 2 {
		t.Errorf("warnings = %v, want 2 (one per legacy keyword)", logger.lines)
	}

	other, ok := cfg.EnvironmentByName("other")
	if !ok {
		t.Fatal("environment \"other\" not found")
	}
	if len(other.Layers) != 1 || other.Layers[0].Type != layer.TypeReference || other.Layers[0].LowerLayerName != "legacy" {
		t.Errorf("other.Layers = %+v, want a Reference to legacy", other.Layers)
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	cfg := &Config{
		ClientPath: "/usr/libexec/wormhole-client",
		Profiles: []Profile{
			{Name: "python3", Wrapper: "/opt/wormhole/bin/python3", Command: "/usr/bin/python3", Environment: "base"},
		},
		Environments: []layer.Environment{
			{
				Name:     "base",
				Provides: []string{"python3-devel-3.9"},
				Layers: []layer.Layer{
					{
						Type:      layer.TypeLayer,
						Directory: "/opt/python3.9",
						Paths: []layer.PathDirective{
							{Kind: layer.Bind, Path: "/usr/bin/python3"},
							{Kind: layer.Mount, Path: "/proc", FSType: "proc"},
						},
					},
				},
			},
		},
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "out.conf")
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load after Write: %v", err)
	}

	if got.ClientPath != cfg.ClientPath {
		t.Errorf("ClientPath = %q, want %q", got.ClientPath, cfg.ClientPath)
	}
	if len(got.Environments) != 1 || got.Environments[0].Name != "base" {
		t.Fatalf("Environments = %+v", got.Environments)
	}
	gotLayer := got.Environments[0].Layers[0]
	wantLayer := cfg.Environments[0].Layers[0]
	if gotLayer.Directory != wantLayer.Directory || len(gotLayer.Paths) != len(wantLayer.Paths) {
		t.Errorf("round-tripped layer = %+v, want %+v", gotLayer, wantLayer)
	}
}
