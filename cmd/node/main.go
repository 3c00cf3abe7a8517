// Package main implements the ringfab compute node binary.
//
// A node binds an ephemeral TCP port, registers with the registry, and
// then serves rounds: the registry's overlay setup message names the
// ring neighbor to dial and the worker pool size, and each TaskInitiate
// runs one generate→balance→execute→report cycle. The process runs
// until interrupted; there is no graceful drain across rounds.
//
// Example usage:
//
//	# Start a node against a registry on the control host
//	node --registry control:5555
//
//	# Advertise a specific hostname instead of os.Hostname
//	node --registry control:5555 --host worker-3
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/config"
	"github.com/dreamware/ringfab/internal/node"
	"github.com/dreamware/ringfab/internal/transport"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		registryAddr string
		host         string
		configPath   string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:           "node",
		Short:         "ringfab compute node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileCfg, err := config.LoadNode(configPath)
			if err != nil {
				return err
			}
			if registryAddr == "" {
				registryAddr = fileCfg.Registry
			}
			if host == "" {
				host = fileCfg.Host
			}
			if registryAddr == "" {
				return fmt.Errorf("a registry address is required (--registry or config file)")
			}
			if !cmd.Flags().Changed("debug") {
				debug = fileCfg.Debug
			}
			return run(registryAddr, host, debug)
		},
	}

	cmd.Flags().StringVar(&registryAddr, "registry", "", "registry address (host:port)")
	cmd.Flags().StringVar(&host, "host", "", "advertised hostname (default: os hostname)")
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "development logging")
	return cmd
}

func run(registryAddr, host string, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if host == "" {
		host, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
	}

	// The listener binds first so the advertised port is real before the
	// node registers.
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	defer ln.Close()
	port := int32(ln.Addr().(*net.TCPAddr).Port)

	n := node.New(node.Config{Host: host, Port: port, Logger: logger})
	defer n.Stop()

	go func() {
		if err := transport.Serve(ln, n.Handle, logger); err != nil {
			logger.Error("listener failed", zap.Error(err))
		}
	}()

	if err := n.Register(registryAddr); err != nil {
		return err
	}
	logger.Info("node live", zap.String("addr", n.Addr()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
