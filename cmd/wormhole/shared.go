//go:build linux

package main

import (
	"fmt"
	"os"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/capreg"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/runtimefacade"
	"github.com/wormholefs/wormhole/internal/wormholeconf"
)

// Environment variables the daemon subcommand sets before re-exec'ing
// itself as a setup helper (daemon.HelperEnvVar triggers the re-exec;
// these carry the rest of the context a bare env var table can hold).
const (
	envConfigPath   = "WORMHOLE_CONFIG_PATH"
	envCapregDir    = "WORMHOLE_CAPREG_DIR"
	envClientPath   = "WORMHOLE_CLIENT_PATH"
	envLdconfigPath = "WORMHOLE_LDCONFIG_PATH"
)

func errNoSuchEnvironment(name string) error {
	return fmt.Errorf("no environment named %q in the loaded config", name)
}

func loadConfigFromEnvironment() (*wormholeconf.Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		return nil, fmt.Errorf("%s is not set", envConfigPath)
	}
	return wormholeconf.Load(path, logWriter{})
}

func openRegistryFromEnvironment() *capreg.Registry {
	dir := os.Getenv(envCapregDir)
	if dir == "" {
		return nil
	}
	return capreg.Open(dir)
}

func flattenEnvironment(env layer.Environment, resolver *configResolver) (layer.Environment, error) {
	return layer.Flatten(env, resolver)
}

func defaultAssembleOptions() assemble.Options {
	return assemble.Options{
		Runtime:            runtimefacade.PodmanRuntime{},
		WormholeClientPath: os.Getenv(envClientPath),
		LdconfigPath:       os.Getenv(envLdconfigPath),
		Logger:             logWriter{},
	}
}

// logWriter adapts the standard logger to the small Printf-shaped Logger
// interface every internal package declares independently (assemble,
// digger, autoprofile, wormholeconf), so cmd/wormhole has one place that
// satisfies all of them instead of passing nil and losing diagnostics.
type logWriter struct{}

func (logWriter) Printf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
