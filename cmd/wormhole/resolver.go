//go:build linux

package main

import (
	"fmt"

	"github.com/wormholefs/wormhole/internal/capability"
	"github.com/wormholefs/wormhole/internal/capreg"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/wormholeconf"
)

// configResolver implements layer.Resolver for Reference layers and for
// CLI flags like --base-environment that name an environment. A name is
// first looked up in the already-loaded config (the common
// "use-environment sibling-name" case); if that fails, it is
// parsed as a capability requirement and resolved through the capability
// registry symlink farm, whose target config file is loaded on demand
// and cached.
//
// This is the adapter capreg.go's doc comment defers to the binaries: it
// needs both capreg.Registry (to find the config file) and
// wormholeconf.Load (to parse it), so it lives here rather than in either
// leaf package.
type configResolver struct {
	cfg      *wormholeconf.Config
	registry *capreg.Registry
	cache    map[string]*wormholeconf.Config
}

func newConfigResolver(cfg *wormholeconf.Config, registry *capreg.Registry) *configResolver {
	return &configResolver{cfg: cfg, registry: registry, cache: map[string]*wormholeconf.Config{}}
}

func (r *configResolver) ResolveLayers(name string) ([]layer.Layer, error) {
	env, err := r.ResolveEnvironment(name)
	if err != nil {
		return nil, err
	}
	return env.Layers, nil
}

// ResolveEnvironment looks name up locally first (the common
// "use-environment sibling-name" and "--base-environment NAME" cases),
// falling back to the capability registry when name is not a local
// environment.
func (r *configResolver) ResolveEnvironment(name string) (layer.Environment, error) {
	if env, ok := r.cfg.EnvironmentByName(name); ok {
		return env, nil
	}
	return r.resolveViaRegistry(name)
}

func (r *configResolver) resolveViaRegistry(name string) (layer.Environment, error) {
	if r.registry == nil {
		return layer.Environment{}, fmt.Errorf("resolver: unknown environment %q (no capability registry configured)", name)
	}

	req, err := capability.Parse(name)
	if err != nil {
		return layer.Environment{}, fmt.Errorf("resolver: %q is neither a known environment nor a valid capability requirement: %w", name, err)
	}

	configPath, matched, err := r.registry.Resolve(req)
	if err != nil {
		return layer.Environment{}, fmt.Errorf("resolver: %w", err)
	}

	cfg, ok := r.cache[configPath]
	if !ok {
		cfg, err = wormholeconf.Load(configPath, nil)
		if err != nil {
			return layer.Environment{}, fmt.Errorf("resolver: loading %s for %s: %w", configPath, matched, err)
		}
		r.cache[configPath] = cfg
	}

	for _, env := range cfg.Environments {
		for _, provided := range env.Provides {
			if c, err := capability.Parse(provided); err == nil && c.Satisfies(matched) {
				return env, nil
			}
		}
	}
	return layer.Environment{}, fmt.Errorf("resolver: %s provides nothing satisfying %s", configPath, matched)
}
