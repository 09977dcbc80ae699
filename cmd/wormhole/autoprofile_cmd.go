//go:build linux

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/wormholefs/wormhole/internal/autoprofile"
	"github.com/wormholefs/wormhole/internal/cliutil"
	"github.com/wormholefs/wormhole/internal/layer"
	"github.com/wormholefs/wormhole/internal/wormholeconf"
)

var (
	flagAPOverlayDir  = &cli.StringFlag{Name: "overlay-directory", Required: true}
	flagAPEnvName     = &cli.StringFlag{Name: "environment-name", Required: true}
	flagAPOutputFile  = &cli.StringFlag{Name: "output-file", Value: "auto"}
	flagAPProfile     = &cli.StringFlag{Name: "profile", Required: true}
	flagAPProvides    = &cli.StringSliceFlag{Name: "provides"}
	flagAPRequires    = &cli.StringSliceFlag{Name: "requires"}
	flagAPWrapperDir  = &cli.StringFlag{Name: "wrapper-directory"}
	flagAPCheckBinary = &cli.StringSliceFlag{Name: "check-binaries"}
)

// builtinProfiles are the built-in autoprofile tags resolvable without an
// absolute path. Only the simplest general-purpose one is shipped here.
var builtinProfiles = map[string]string{
	"generic": "ignore-empty-subdirs /\ncheck-binaries /usr/bin\ncheck-binaries /usr/sbin\ncheck-ldconfig\n",
}

// autoprofileCommand implements the autoprofile binary: analyse a
// captured tree against a profile and emit a config.
var autoprofileCommand = &cli.Command{
	Name:  "autoprofile",
	Usage: "analyse a captured tree and emit a layer config",
	Flags: []cli.Flag{
		flagAPOverlayDir, flagAPEnvName, flagAPOutputFile, flagAPProfile,
		flagAPProvides, flagAPRequires, flagAPWrapperDir, flagAPCheckBinary,
	},
	Action: func(c *cli.Context) error {
		lines, err := autoprofile.LoadLines(c.String(flagAPProfile.Name), builtinProfiles)
		if err != nil {
			return cliutil.UsageError(err)
		}
		for _, p := range c.StringSlice(flagAPCheckBinary.Name) {
			lines = append(lines, autoprofile.Line{Keyword: "check-binaries", Arg: p})
		}

		result, err := autoprofile.Analyse(autoprofile.Options{
			Root:       c.String(flagAPOverlayDir.Name),
			WrapperDir: c.String(flagAPWrapperDir.Name),
			Logger:     logWriter{},
		}, lines)
		if err != nil {
			return err
		}

		env := layer.Environment{
			Name:     c.String(flagAPEnvName.Name),
			Provides: c.StringSlice(flagAPProvides.Name),
			Requires: c.StringSlice(flagAPRequires.Name),
			Layers: []layer.Layer{{
				Type:        result.EnvironmentType,
				Directory:   c.String(flagAPOverlayDir.Name),
				UseLdconfig: result.UseLdconfig,
				Paths:       result.Directives,
			}},
		}
		cfg := &wormholeconf.Config{Environments: []layer.Environment{env}}
		for _, w := range result.Wrappers {
			cfg.Profiles = append(cfg.Profiles, wormholeconf.Profile{
				Name:        w.Command,
				Wrapper:     w.Wrapper,
				Command:     w.Command,
				Environment: env.Name,
			})
		}

		return writeAutoprofileOutput(c.String(flagAPOutputFile.Name), c.String(flagAPOverlayDir.Name), cfg)
	},
}

func writeAutoprofileOutput(outputFile, overlayDir string, cfg *wormholeconf.Config) error {
	switch outputFile {
	case "-":
		tmp, err := os.CreateTemp("", "wormhole-autoprofile-*.conf")
		if err != nil {
			return err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := wormholeconf.Write(tmp.Name(), cfg); err != nil {
			return err
		}
		content, err := os.ReadFile(tmp.Name())
		if err != nil {
			return err
		}
		_, err = fmt.Print(string(content))
		return err
	case "auto":
		return wormholeconf.Write(overlayDir+"/.digger.conf", cfg)
	default:
		return wormholeconf.Write(outputFile, cfg)
	}
}
