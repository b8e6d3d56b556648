// Package resolve implements `birdid resolve`.
package resolve

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdid/cmd/render"
	"github.com/tphakala/birdid/internal/app"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/region"
)

// Command creates the resolve command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		lat, lon   float64
		radius     int
		regionCode string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the species list for a location or region",
		Long: `Resolve runs the location pipeline: cached result, recent observations near
the point, the regional checklist, then the offline country list.
With --region the point step is skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if regionCode == "" && (!cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon")) {
				return fmt.Errorf("--lat and --lon are required unless --region is given")
			}
			a, err := app.New(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *locate.Resolution
			if regionCode != "" {
				id, err := region.Parse(regionCode)
				if err != nil {
					return err
				}
				res, err = a.Pipeline.ResolveRegion(cmd.Context(), id)
				if err != nil {
					return err
				}
			} else {
				res, err = a.Pipeline.Resolve(cmd.Context(), locate.Query{Lat: lat, Lon: lon, RadiusKm: radius})
				if err != nil {
					return err
				}
			}

			Print(cmd.OutOrStdout(), res, list)
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in decimal degrees")
	cmd.Flags().IntVar(&radius, "radius", settings.Filter.RadiusKm, "Search radius in km for recent observations")
	cmd.Flags().StringVar(&regionCode, "region", "", "eBird region code such as FI or US-CA")
	cmd.Flags().BoolVar(&list, "list", false, "Print every species code")

	return cmd
}

// Print writes a resolution summary. A nil resolution means no list was found.
func Print(w io.Writer, res *locate.Resolution, list bool) {
	colorize := render.Colorize(w)
	if res == nil {
		fmt.Fprintln(w, render.Highlight("No species list available; results will not be filtered geographically.", colorize))
		return
	}

	pairs := [][2]string{
		{"Provenance", string(res.Source())},
		{"Source", res.Source().Label()},
		{"Region", regionString(res.Region)},
		{"Country", res.Country},
		{"Species", strconv.Itoa(res.Entry.SpeciesCount)},
	}
	if res.Entry.ObservationCount > 0 {
		pairs = append(pairs, [2]string{"Observations", strconv.Itoa(res.Entry.ObservationCount)})
	}
	if !res.Entry.CachedAt.IsZero() {
		pairs = append(pairs, [2]string{"Fetched", res.Entry.CachedAt.Local().Format(time.DateTime)})
	}
	pairs = append(pairs, [2]string{"From cache", strconv.FormatBool(res.FromCache)})
	if res.TraceID != "" {
		pairs = append(pairs, [2]string{"Trace", res.TraceID})
	}
	fmt.Fprintln(w, render.KeyValues(pairs, colorize))

	if list {
		codes := res.Species().Sorted()
		parts := make([]string, len(codes))
		for i, c := range codes {
			parts[i] = string(c)
		}
		fmt.Fprintln(w, strings.Join(parts, "\n"))
	}
}

func regionString(id region.ID) string {
	if id.IsZero() {
		return "-"
	}
	return id.String()
}
