//go:build linux

// Command wormhole is the multicall entrypoint for the wrap, digger,
// autoprofile, daemon, and archive subcommands, one cli.App with a
// command per concern.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/wormholefs/wormhole/internal/cliutil"
	"github.com/wormholefs/wormhole/internal/daemon"
)

func main() {
	// A setup helper re-exec never
	// goes through the cli.App at all: it is detected before flag parsing,
	// the same way run_in_container's --internal-continue re-exec short-
	// circuits enterNamespace.
	if envName := os.Getenv(daemon.HelperEnvVar); envName != "" {
		cliutil.Exit(runHelperMode(envName))
	}

	app := &cli.App{
		Name:  "wormhole",
		Usage: "assemble and capture mount-namespace environments",
		Commands: []*cli.Command{
			wrapCommand,
			diggerCommand,
			autoprofileCommand,
			daemonCommand,
			archiveCommand,
		},
	}

	cliutil.Exit(app.Run(os.Args))
}

func runHelperMode(envName string) error {
	cfg, err := loadConfigFromEnvironment()
	if err != nil {
		return err
	}
	resolver := newConfigResolver(cfg, openRegistryFromEnvironment())

	env, ok := cfg.EnvironmentByName(envName)
	if !ok {
		return cliutil.UsageError(errNoSuchEnvironment(envName))
	}

	flat, err := flattenEnvironment(env, resolver)
	if err != nil {
		return err
	}

	return daemon.RunHelper(context.Background(), flat, defaultAssembleOptions())
}
