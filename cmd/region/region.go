// Package region implements `birdid region`.
package region

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdid/cmd/render"
	"github.com/tphakala/birdid/internal/app"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/errors"
)

// Command creates the region command
func Command(settings *conf.Settings) *cobra.Command {
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "region",
		Short: "Reverse-geocode a coordinate to an eBird region code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				return errors.ValidationError(fmt.Sprintf("coordinate %f,%f out of range", lat, lon))
			}
			a, err := app.New(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Regions == nil {
				return errors.Newf("reverse geocoder is disabled").
					Component("cmd").
					Category(errors.CategoryConfiguration).
					Build()
			}

			w := cmd.OutOrStdout()
			id, country, ok := a.Regions.Resolve(cmd.Context(), lat, lon)
			if !ok {
				fmt.Fprintln(w, "No region found for this location.")
				return nil
			}
			fmt.Fprintln(w, render.KeyValues([][2]string{
				{"Region", id.String()},
				{"Country", country},
				{"Subdivision", strconv.FormatBool(id.IsSubdivision())},
			}, render.Colorize(w)))
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in decimal degrees")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}
