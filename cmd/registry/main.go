// Package main implements the ringfab registry binary: the operator's
// control plane for an overlay run.
//
// The registry listens for node registrations and exposes an interactive
// console:
//
//	setup-overlay [poolSize]   fix the ring and push overlay setup
//	                           (poolSize may come from the config file)
//	start <rounds>             run rounds and print the traffic table
//	list-nodes                 show registered nodes
//	exit                       terminate the registry
//
// Example session:
//
//	registry --listen :5555
//	> setup-overlay 4
//	> start 3
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/config"
	"github.com/dreamware/ringfab/internal/registry"
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
		listen     string
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:           "registry",
		Short:         "ringfab overlay registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileCfg, err := config.LoadRegistry(configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("listen") && fileCfg.Listen != "" {
				listen = fileCfg.Listen
			}
			if !cmd.Flags().Changed("debug") {
				debug = fileCfg.Debug
			}
			return run(listen, fileCfg.PoolSize, debug)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":5555", "bind address")
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "development logging")
	return cmd
}

func run(listen string, defaultPoolSize int, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("bind %s: %w", listen, err)
	}
	defer ln.Close()

	r := registry.New(registry.Config{Logger: logger})
	go func() {
		if err := transport.Serve(ln, r.Handle, logger); err != nil {
			logger.Error("listener failed", zap.Error(err))
		}
	}()
	logger.Info("registry live", zap.String("listen", ln.Addr().String()))

	console(r, os.Stdin, defaultPoolSize)
	return nil
}

// console drives the operator command loop until exit or EOF. A
// defaultPoolSize above zero lets setup-overlay run without an argument.
func console(r *registry.Registry, in *os.File, defaultPoolSize int) {
	fmt.Println("commands: setup-overlay <poolSize>, start <rounds>, list-nodes, exit")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "setup-overlay":
			poolSize := defaultPoolSize
			if len(fields) > 1 {
				var err error
				poolSize, err = intArg(fields, 1)
				if err != nil {
					fmt.Println(err)
					continue
				}
			} else if poolSize < 1 {
				fmt.Println("usage: setup-overlay <poolSize> (no poolSize default configured)")
				continue
			}
			if err := r.SetupOverlay(poolSize); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("overlay ready: %d nodes\n", len(r.Members()))

		case "start":
			rounds, err := intArg(fields, 1)
			if err != nil {
				fmt.Println(err)
				continue
			}
			summaries, err := r.Start(rounds)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Print(registry.FormatSummaries(summaries))

		case "list-nodes":
			for _, addr := range r.Members() {
				fmt.Println(addr)
			}

		case "exit":
			return

		default:
			fmt.Println("unknown command; available: setup-overlay, start, list-nodes, exit")
		}
	}
}

func intArg(fields []string, index int) (int, error) {
	if len(fields) <= index {
		return 0, fmt.Errorf("usage: %s <n>", fields[0])
	}
	v, err := strconv.Atoi(fields[index])
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%q is not a positive integer", fields[index])
	}
	return v, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
