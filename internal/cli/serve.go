package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tablelift/cadence/internal/server"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config http_addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  "Run the cadence HTTP API server until interrupted. SIGINT or SIGTERM triggers a graceful shutdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := buildServices(ctx)
		if err != nil {
			return err
		}
		defer svc.database.Close()

		addr := cfg.HTTPAddr
		if serveAddr != "" {
			addr = serveAddr
		}

		srv := server.New(
			server.Options{Addr: addr, DefaultOrg: cfg.DefaultOrg},
			svc.templates,
			svc.instances,
			svc.tasks,
			svc.restaurantRepo,
		)
		return srv.Run(ctx)
	},
}
