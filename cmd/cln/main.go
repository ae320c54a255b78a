// Command cln materialises the working tree of a remote repository at
// the tip of one reference, without a full clone, by hard-linking from
// a persistent content-addressed local store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yhakbar/cln/internal/clnerr"
	"github.com/yhakbar/cln/internal/clnlog"
	"github.com/yhakbar/cln/internal/config"
	"github.com/yhakbar/cln/internal/orchestrator"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()

	var req orchestrator.Request
	var cacheDir string
	var workers int
	var logLevel string
	var logJSON bool
	var noLink bool

	cmd := &cobra.Command{
		Use:   "cln <remote> [target] -b <ref>",
		Short: "Materialise a repository's working tree without a full clone",
		Args: func(c *cobra.Command, args []string) error {
			if err := cobra.RangeArgs(1, 2)(c, args); err != nil {
				return clnerr.New(clnerr.MalformedArgs, "args", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			clnlog.Init(clnlog.Config{Level: logLevel, JSON: logJSON})

			req.Remote = args[0]
			if len(args) == 2 {
				req.Target = args[1]
			}
			req.Workers = workers
			req.NoLink = noLink

			ctx, cancel := context.WithCancel(c.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			defer signal.Stop(sigCh)

			return orchestrator.Run(ctx, cacheDir, req)
		},
	}

	cmd.Flags().StringVarP(&req.Ref, "branch", "b", "HEAD", "Reference to resolve and clone")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", cfg.CacheDir, "Root of the persistent content-addressed store (env CLN_CACHE_DIR)")
	cmd.Flags().IntVar(&workers, "workers", cfg.Workers, "Worker pool size for ingestion and materialisation (env CLN_WORKERS)")
	cmd.Flags().StringVar(&logLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (env CLN_LOG_LEVEL)")
	cmd.Flags().BoolVar(&logJSON, "log-json", cfg.LogJSON, "Emit structured JSON logs (env CLN_LOG_JSON)")
	cmd.Flags().BoolVar(&noLink, "no-link", false, "Force copy-based materialisation instead of hard-linking")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return clnerr.New(clnerr.MalformedArgs, "flags", err)
	})

	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintln(os.Stderr, "cln:", err)
	return clnerr.ExitCode(clnerr.As(err))
}
