package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MLAN1O/atlas/api"
	configx "github.com/MLAN1O/atlas/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the turn API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		httpCfg, err := configx.New[api.Config]("HTTP")
		if err != nil {
			return err
		}

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := api.NewServer(a.engine, *httpCfg)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}
