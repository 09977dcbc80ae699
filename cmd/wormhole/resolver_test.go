//go:build linux

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wormholefs/wormhole/internal/capability"
	"github.com/wormholefs/wormhole/internal/capreg"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/wormholeconf"
)

func TestConfigResolverPrefersLocalEnvironment(t *testing.T) {
	cfg := &wormholeconf.Config{
		Environments: []layer.Environment{
			{Name: "base", Layers: []layer.Layer{{Type: layer.TypeLayer, Directory: "/a"}}},
		},
	}
	r := newConfigResolver(cfg, nil)

	layers, err := r.ResolveLayers("base")
	if err != nil {
		t.Fatalf("ResolveLayers: %v", err)
	}
	if len(layers) != 1 || layers[0].Directory != "/a" {
		t.Errorf("layers = %+v, want local environment's layers", layers)
	}
}

func TestConfigResolverFallsBackToRegistry(t *testing.T) {
	dir := t.TempDir()
	registry := capreg.Open(filepath.Join(dir, "registry"))

	remoteConfigPath := filepath.Join(dir, "remote.conf")
	remoteCfg := &wormholeconf.Config{
		Environments: []layer.Environment{
			{
				Name:     "python3-devel",
				Provides: []string{"python3-devel-3.9.1"},
				Layers:   []layer.Layer{{Type: layer.TypeLayer, Directory: "/opt/python3.9"}},
			},
		},
	}
	if err := wormholeconf.Write(remoteConfigPath, remoteCfg); err != nil {
		t.Fatal(err)
	}

	provided, err := capability.Parse("python3-devel-3.9.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(provided, remoteConfigPath); err != nil {
		t.Fatal(err)
	}

	cfg := &wormholeconf.Config{}
	r := newConfigResolver(cfg, registry)

	env, err := r.ResolveEnvironment("python3-devel-3.9")
	if err != nil {
		t.Fatalf("ResolveEnvironment: %v", err)
	}
	if len(env.Layers) != 1 || env.Layers[0].Directory != "/opt/python3.9" {
		t.Errorf("env = %+v, want the registry-resolved environment", env)
	}
}

func TestConfigResolverUnknownNameFails(t *testing.T) {
	cfg := &wormholeconf.Config{}
	r := newConfigResolver(cfg, nil)
	if _, err := r.ResolveEnvironment("nope"); err == nil {
		t.Fatal("ResolveEnvironment: want error for unknown name with no registry")
	}
}

func TestFindProfileByWrapper(t *testing.T) {
	cfg := &wormholeconf.Config{
		Profiles: []wormholeconf.Profile{
			{Name: "python3", Wrapper: "/opt/wormhole/bin/python3", Command: "/usr/bin/python3", Environment: "base"},
		},
	}

	p, ok := findProfileByWrapper(cfg, "python3")
	if !ok {
		t.Fatal("findProfileByWrapper: want a match")
	}
	if p.Command != "/usr/bin/python3" {
		t.Errorf("Command = %q, want /usr/bin/python3", p.Command)
	}

	if _, ok := findProfileByWrapper(cfg, "ruby"); ok {
		t.Fatal("findProfileByWrapper: want no match for unrelated wrapper name")
	}
}

func TestWriteAutoprofileOutputAuto(t *testing.T) {
	dir := t.TempDir()
	cfg := &wormholeconf.Config{
		Environments: []layer.Environment{{Name: "captured"}},
	}
	if err := writeAutoprofileOutput("auto", dir, cfg); err != nil {
		t.Fatalf("writeAutoprofileOutput: %v", err)
	}
	if _, err := os.Stat(dir + "/.digger.conf"); err != nil {
		t.Errorf("expected .digger.conf written under overlay dir: %v", err)
	}
}

func TestWriteAutoprofileOutputExplicitPath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.conf")
	cfg := &wormholeconf.Config{Environments: []layer.Environment{{Name: "captured"}}}
	if err := writeAutoprofileOutput(out, "/unused", cfg); err != nil {
		t.Fatalf("writeAutoprofileOutput: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected explicit output path written: %v", err)
	}
}
