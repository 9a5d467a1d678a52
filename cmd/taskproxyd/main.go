// Command taskproxyd runs the request-dispatch proxy: it loads the
// per-group worker configuration, starts the dispatcher, and serves
// client/worker/master listeners until a termination signal arrives.
//
// The cobra-based command surface follows the shape of the teacher
// pack's lindb cmd/lind tree (newStorageCmd/runStorageCmd): a root
// command with a --config flag and a run subcommand that loads
// configuration and blocks on Proxy.Run.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackstrix/taskproxy/internal/config"
	"github.com/hackstrix/taskproxy/internal/proxy"
)

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskproxyd",
		Short: "request-dispatch proxy and worker-lifecycle manager",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "taskproxy.toml", "path to the proxy's TOML configuration")
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the proxy and block until terminated",
		RunE:  runProxy,
	}
}

func runProxy(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("taskproxyd: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("taskproxyd: build logger: %w", err)
	}
	defer log.Sync()

	p := proxy.New(cfg, log, prometheus.DefaultRegisterer)
	return p.Run(context.Background())
}
