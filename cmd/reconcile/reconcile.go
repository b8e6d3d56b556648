// Package reconcile implements `birdid reconcile`.
package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdid/cmd/render"
	"github.com/tphakala/birdid/internal/app"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/reconcile"
	"github.com/tphakala/birdid/internal/region"
	"github.com/tphakala/birdid/internal/taxonomy"
)

// candidateFile is the non-array form of a candidates file.
type candidateFile struct {
	Candidates  []reconcile.Candidate  `json:"candidates"`
	Predictions []reconcile.Prediction `json:"predictions"`
}

// Command creates the reconcile command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		lat, lon       float64
		radius         int
		regionCode     string
		candidatesPath string
		mappingPath    string
		global         bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rank classifier candidates against the local species list",
		Long: `Reconcile reads classifier output and keeps the candidates found in the
species list for the given location. The candidates file is either a JSON
array of {"speciesId","rawConfidence"} objects or an object with a
"predictions" array of {"classId","probability"}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := ReadCandidates(candidatesPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			ix, err := a.Taxonomy(ctx)
			if err != nil {
				logger.Global().Module("cmd").Warn("taxonomy unavailable, matching on raw ids",
					logger.Error(err))
				ix = taxonomy.NewIndex()
			}
			if mappingPath != "" {
				if err := ix.LoadMappingFile(mappingPath); err != nil {
					return err
				}
			}

			var filter *locate.Resolution
			hasPoint := cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon")
			switch {
			case global || !settings.Filter.Enabled:
			case regionCode != "":
				id, err := region.Parse(regionCode)
				if err != nil {
					return err
				}
				if filter, err = a.Pipeline.ResolveRegion(ctx, id); err != nil {
					return err
				}
			case hasPoint:
				if filter, err = a.Pipeline.Resolve(ctx, locate.Query{Lat: lat, Lon: lon, RadiusKm: radius}); err != nil {
					return err
				}
			}

			outcome := a.Reconciler.Reconcile(ctx, candidates, filter, app.SpeciesLookup(ix))
			Print(cmd.OutOrStdout(), outcome, ix)
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in decimal degrees")
	cmd.Flags().IntVar(&radius, "radius", settings.Filter.RadiusKm, "Search radius in km for recent observations")
	cmd.Flags().StringVar(&regionCode, "region", "", "Filter with a region code instead of a location")
	cmd.Flags().StringVar(&candidatesPath, "candidates", "", "Classifier output JSON file, - for stdin")
	cmd.Flags().StringVar(&mappingPath, "mapping", "", "YAML file mapping classifier class ids to species codes")
	cmd.Flags().BoolVar(&global, "global", false, "Do not filter geographically")
	_ = cmd.MarkFlagRequired("candidates")

	return cmd
}

// ReadCandidates loads a candidates file. "-" reads stdin.
func ReadCandidates(path string) ([]reconcile.Candidate, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // G304: operator-supplied input file
	}
	if err != nil {
		return nil, errors.New(err).
			Component("cmd").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return ParseCandidates(data)
}

// ParseCandidates decodes either candidates file form.
func ParseCandidates(data []byte) ([]reconcile.Candidate, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []reconcile.Candidate
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, parseError(err)
		}
		return list, nil
	}

	var file candidateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, parseError(err)
	}
	if len(file.Candidates) > 0 {
		return file.Candidates, nil
	}
	return reconcile.CandidatesFromPredictions(file.Predictions)
}

func parseError(err error) error {
	return errors.Newf("invalid candidates file: %w", err).
		Component("cmd").
		Category(errors.CategoryFileParsing).
		Build()
}

// Print renders the reconciled list with species names from ix.
func Print(w io.Writer, outcome reconcile.Outcome, ix *taxonomy.Index) {
	colorize := render.Colorize(w)

	rows := make([][]string, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		name := r.SpeciesID
		if sp, ok := ix.Species(r.SpeciesCode); ok && sp.CommonName != "" {
			name = sp.CommonName
		}
		match := ""
		if r.MatchedRegionFilter {
			match = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Rank),
			name,
			string(r.SpeciesCode),
			strconv.FormatFloat(r.Confidence, 'f', 1, 64) + "%",
			match,
		})
	}
	fmt.Fprintln(w, render.Table(
		[]string{"Rank", "Species", "Code", "Confidence", "In region"},
		rows,
		[]render.Align{render.AlignRight, render.AlignLeft, render.AlignLeft, render.AlignRight},
		colorize))

	fmt.Fprintf(w, "Provenance: %s\n", outcome.Provenance)
	if outcome.FallbackUsed {
		fmt.Fprintln(w, "Matched against the broader regional list.")
	}
	if outcome.NoRegionalMatch {
		fmt.Fprintln(w, render.Highlight("No candidate is known in this region; showing the best match.", colorize))
		fmt.Fprintln(w, "Suggestions:\n  "+strings.Join(outcome.Suggestions, "\n  "))
	}
}
