//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/cliutil"
	"github.com/wormholefs/wormhole/internal/nsops"
	"github.com/wormholefs/wormhole/internal/wormholeconf"
)

var flagWrapConfig = &cli.StringFlag{
	Name:     "config",
	Required: true,
	Usage:    "path to the wormhole config file or directory",
}

var flagWrapAs = &cli.StringFlag{
	Name:  "as",
	Usage: "profile wrapper name to resolve as, defaults to argv[0]'s basename",
}

// wrapCommand implements the wrapper binary: resolve argv[0]
// (or --as) to a profile, assemble its environment, and exec the
// profile's command with the original argv.
var wrapCommand = &cli.Command{
	Name:      "wrap",
	Usage:     "assemble a profile's environment and exec its command",
	ArgsUsage: "[args...]",
	Flags:     []cli.Flag{flagWrapConfig, flagWrapAs},
	Action: func(c *cli.Context) error {
		cfg, err := wormholeconf.Load(c.String(flagWrapConfig.Name), logWriter{})
		if err != nil {
			return cliutil.UsageError(err)
		}

		wrapperName := c.String(flagWrapAs.Name)
		if wrapperName == "" {
			wrapperName = filepath.Base(os.Args[0])
		}

		profile, ok := findProfileByWrapper(cfg, wrapperName)
		if !ok {
			return cliutil.UsageError(fmt.Errorf("no profile wraps %q", wrapperName))
		}

		env, ok := cfg.EnvironmentByName(profile.Environment)
		if !ok {
			return cliutil.UsageError(errNoSuchEnvironment(profile.Environment))
		}

		resolver := newConfigResolver(cfg, openRegistryFromEnvironment())
		flat, err := flattenEnvironment(env, resolver)
		if err != nil {
			return err
		}

		if err := nsops.CreateMountNamespace(); err != nil {
			return err
		}

		asm := assemble.New(defaultAssembleOptions())
		if _, err := asm.Assemble(context.Background(), flat); err != nil {
			return err
		}

		argv := append([]string{profile.Command}, c.Args().Slice()...)
		if err := syscall.Exec(profile.Command, argv, os.Environ()); err != nil {
			return fmt.Errorf("exec %s: %w", profile.Command, err)
		}
		return nil
	},
}

func findProfileByWrapper(cfg *wormholeconf.Config, wrapperName string) (wormholeconf.Profile, bool) {
	for _, p := range cfg.Profiles {
		if filepath.Base(p.Wrapper) == wrapperName {
			return p, true
		}
	}
	return wormholeconf.Profile{}, false
}
