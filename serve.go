package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phobologic/archgraph/internal/analyzer"
	"github.com/phobologic/archgraph/internal/governor"
	"github.com/phobologic/archgraph/internal/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyzer over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			an := analyzer.New(governor.New(cfg.Governor()), version)
			srv, err := server.New(an, server.Config{
				Options:        cfg.Options(),
				MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
				CacheSize:      cfg.Server.CacheSize,
				Version:        version,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8000)")
	return cmd
}
