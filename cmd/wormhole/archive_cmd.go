//go:build linux

package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/wormholefs/wormhole/internal/archive"
	"github.com/wormholefs/wormhole/internal/cliutil"
)

// archiveCommand packages a digger-captured or autoprofiled layer
// directory as a redistributable .tar.zst, or unpacks one back into a
// fresh directory.
var archiveCommand = &cli.Command{
	Name:  "archive",
	Usage: "export or import a layer directory as a .tar.zst",
	Subcommands: []*cli.Command{
		{
			Name:      "export",
			ArgsUsage: "SRCDIR DEST.tar.zst",
			Action: func(c *cli.Context) error {
				if c.Args().Len() != 2 {
					return cliutil.UsageError(fmt.Errorf("archive export: want SRCDIR and DEST.tar.zst"))
				}
				return archive.Export(c.Args().Get(0), c.Args().Get(1))
			},
		},
		{
			Name:      "import",
			ArgsUsage: "SRC.tar.zst DESTDIR",
			Action: func(c *cli.Context) error {
				if c.Args().Len() != 2 {
					return cliutil.UsageError(fmt.Errorf("archive import: want SRC.tar.zst and DESTDIR"))
				}
				return archive.Import(c.Args().Get(0), c.Args().Get(1))
			},
		},
	},
}
