//go:build linux

package main

import (
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/cliutil"
	"github.com/wormholefs/wormhole/internal/daemon"
)

var (
	flagDaemonConfig     = &cli.StringFlag{Name: "config", Required: true}
	flagDaemonCapregDir  = &cli.StringFlag{Name: "capreg-dir"}
	flagDaemonGRPCSocket = &cli.StringFlag{Name: "grpc-socket", Value: "/run/wormhole/control.sock"}
	flagDaemonAttachSock = &cli.StringFlag{Name: "attach-socket", Value: "/run/wormhole/attach.sock"}
	flagDaemonClientPath = &cli.StringFlag{Name: "client-path"}
)

// daemonCommand starts the control-plane daemon: it registers every
// environment from the config with an Engine, then serves the gRPC
// control socket and the SCM_RIGHTS attach socket until killed.
var daemonCommand = &cli.Command{
	Name:  "daemon",
	Usage: "serve the environment-assembly control plane",
	Flags: []cli.Flag{
		flagDaemonConfig, flagDaemonCapregDir, flagDaemonGRPCSocket,
		flagDaemonAttachSock, flagDaemonClientPath,
	},
	Action: func(c *cli.Context) error {
		os.Setenv(envConfigPath, c.String(flagDaemonConfig.Name))
		if dir := c.String(flagDaemonCapregDir.Name); dir != "" {
			os.Setenv(envCapregDir, dir)
		}
		if p := c.String(flagDaemonClientPath.Name); p != "" {
			os.Setenv(envClientPath, p)
		}

		cfg, err := loadConfigFromEnvironment()
		if err != nil {
			return cliutil.UsageError(err)
		}

		self, err := os.Executable()
		if err != nil {
			return err
		}

		engine := daemon.NewEngine(self, assemble.Options{})
		resolver := newConfigResolver(cfg, openRegistryFromEnvironment())
		for _, env := range cfg.Environments {
			flat, err := flattenEnvironment(env, resolver)
			if err != nil {
				return fmt.Errorf("daemon: flattening %q: %w", env.Name, err)
			}
			engine.Register(flat)
		}

		grpcLis, err := listenUnix(c.String(flagDaemonGRPCSocket.Name))
		if err != nil {
			return err
		}
		attachLis, err := listenUnix(c.String(flagDaemonAttachSock.Name))
		if err != nil {
			return err
		}

		srv := daemon.Serve(engine, grpcLis, attachLis)
		defer srv.Close()

		<-c.Context.Done()
		return nil
	},
}

func listenUnix(path string) (net.Listener, error) {
	_ = os.Remove(path)
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen %s: %w", path, err)
	}
	return lis, nil
}
