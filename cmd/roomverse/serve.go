package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roomverse-dev/roomverse/internal/config"
	"github.com/roomverse-dev/roomverse/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		address    string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the presence server",
		Long: `Run the presence server: WebSocket endpoint on /ws, health on
/healthz, Prometheus metrics on /metrics, and an optional basic-auth
admin surface on /admin when an admin password is configured.

Configuration is read from roomverse.json in the working directory,
overridden by ROOMVERSE_* environment variables.

Examples:
  roomverse serve
  roomverse serve --address=:8080
  ROOMVERSE_ADMIN_PASSWORD=secret roomverse serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(address, configPath)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from roomverse.json)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to roomverse.json")

	return cmd
}

func runServe(address, configPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Server.Address = address
	}

	logger := cfg.Logger(os.Stderr)

	serverCfg := server.DefaultServerConfig()
	serverCfg.Address = cfg.Server.Address
	serverCfg.AdminPassword = cfg.Server.AdminPassword
	serverCfg.SessionConfig.ProbeInterval = cfg.ProbeInterval()
	serverCfg.SessionConfig.MissInterval = cfg.MissInterval()

	var opts []server.MetricsOption
	if cfg.Name != "" {
		opts = append(opts, server.WithConstLabels(prometheus.Labels{"deployment": cfg.Name}))
	}

	srv := server.New(serverCfg, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting roomverse",
		"version", version,
		"address", serverCfg.Address,
		"config", cfg.Path(),
	)
	return srv.Run(ctx)
}
