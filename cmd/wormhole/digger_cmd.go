//go:build linux

package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/wormholefs/wormhole/internal/cliutil"
	"github.com/wormholefs/wormhole/internal/digger"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/wormholeconf"
)

var (
	flagDiggerBaseEnvironment = &cli.StringFlag{Name: "base-environment"}
	flagDiggerOverlayDir      = &cli.StringFlag{Name: "overlay-directory", Required: true}
	flagDiggerBuildScript     = &cli.StringFlag{Name: "build-script"}
	flagDiggerBuildDir        = &cli.StringFlag{Name: "build-directory"}
	flagDiggerPrivileged      = &cli.BoolFlag{Name: "privileged-namespace"}
	flagDiggerClean           = &cli.BoolFlag{Name: "clean"}
	flagDiggerConfig          = &cli.StringFlag{Name: "config"}
	flagDiggerName            = &cli.StringFlag{Name: "name", Value: "captured"}
)

// diggerCommand implements the digger binary: capture the filesystem
// effects of a command run inside an assembled namespace.
var diggerCommand = &cli.Command{
	Name:  "digger",
	Usage: "capture a command's filesystem effects as a new layer",
	Flags: []cli.Flag{
		flagDiggerBaseEnvironment, flagDiggerOverlayDir, flagDiggerBuildScript,
		flagDiggerBuildDir, flagDiggerPrivileged, flagDiggerClean, flagDiggerConfig,
		flagDiggerName,
	},
	ArgsUsage: "[command...]",
	Action: func(c *cli.Context) error {
		var base *layer.Environment
		if name := c.String(flagDiggerBaseEnvironment.Name); name != "" {
			cfg, err := wormholeconf.Load(c.String(flagDiggerConfig.Name), logWriter{})
			if err != nil {
				return cliutil.UsageError(err)
			}
			resolver := newConfigResolver(cfg, openRegistryFromEnvironment())
			env, err := resolver.ResolveEnvironment(name)
			if err != nil {
				return cliutil.UsageError(err)
			}
			flat, err := flattenEnvironment(env, resolver)
			if err != nil {
				return err
			}
			base = &flat
		}

		session, err := digger.New(digger.Options{
			OverlayRoot:     c.String(flagDiggerOverlayDir.Name),
			Clean:           c.Bool(flagDiggerClean.Name),
			Privileged:      c.Bool(flagDiggerPrivileged.Name),
			BaseEnvironment: base,
			AssembleOptions: defaultAssembleOptions(),
			BuildDir:        c.String(flagDiggerBuildDir.Name),
			BuildScript:     c.String(flagDiggerBuildScript.Name),
			Command:         c.Args().Slice(),
			WriteConfig:     writeDiggerConfig,
			Logger:          logWriter{},
		})
		if err != nil {
			return cliutil.UsageError(err)
		}

		ctx := context.Background()
		if err := session.Setup(ctx); err != nil {
			return err
		}
		if err := session.Run(ctx); err != nil {
			return err
		}
		if _, err := session.Harvest(c.String(flagDiggerName.Name)); err != nil {
			return err
		}
		return nil
	},
}

// writeDiggerConfig is digger.Options.WriteConfig: it persists the
// harvested environment as a single-environment config file, bridging
// digger (which must not import wormholeconf, see digger.go's
// ConfigWriter doc) to the grammar that can actually write one out.
func writeDiggerConfig(path string, env layer.Environment) error {
	cfg := &wormholeconf.Config{Environments: []layer.Environment{env}}
	return wormholeconf.Write(path, cfg)
}
