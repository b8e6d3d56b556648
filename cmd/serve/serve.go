// Package serve implements `birdid serve`.
package serve

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/birdid/internal/api"
	"github.com/tphakala/birdid/internal/app"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/logger"
)

// Command creates the serve command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the species filter over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Taxonomy(ctx); err != nil {
				logger.Global().Module("cmd").Warn("taxonomy unavailable, matching on raw ids until it loads",
					logger.Error(err))
			}

			deps := api.Dependencies{
				Resolver:   a.Pipeline,
				Reconciler: a.Reconciler,
				Lookup:     a.Lookup(),
				Metrics:    a.Metrics,
				RadiusKm:   settings.Filter.RadiusKm,
				BodyLimit:  settings.WebServer.BodyLimit,
			}
			if a.EBird != nil {
				deps.Reference = a.EBird
			}
			return api.New(deps).Start(ctx, settings.WebServer.Listen)
		},
	}

	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", settings.WebServer.Listen, "Address to listen on")

	return cmd
}
