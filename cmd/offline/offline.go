// Package offline implements `birdid offline`.
package offline

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdid/cmd/render"
	"github.com/tphakala/birdid/internal/app"
	"github.com/tphakala/birdid/internal/checklist/offline"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/errors"
)

// Command creates the offline parent command
func Command(settings *conf.Settings) *cobra.Command {
	offlineCmd := &cobra.Command{
		Use:   "offline",
		Short: "Manage the offline country species lists",
	}

	offlineCmd.AddCommand(SyncCommand(settings), ListCommand(settings))

	return offlineCmd
}

// SyncCommand downloads country lists from eBird into the offline directory.
func SyncCommand(settings *conf.Settings) *cobra.Command {
	var (
		countries   []string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download country species lists for offline use",
		Long: `Sync downloads the annual species list of each country into the offline
directory. Without --countries every eBird country is downloaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.EBird == nil {
				return errors.Newf("offline sync needs an eBird API key").
					Component("cmd").
					Category(errors.CategoryConfiguration).
					Build()
			}

			builder := offline.NewBuilder(settings.Offline.Dir, a.EBird, offline.WithConcurrency(concurrency))
			report, err := builder.Build(cmd.Context(), countries)
			if err != nil {
				return err
			}
			PrintReport(cmd.OutOrStdout(), report)
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d countries failed to download", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&countries, "countries", nil, "Comma separated ISO country codes, e.g. FI,SE")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel downloads")

	return cmd
}

// ListCommand prints the offline index.
func ListCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the countries available offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := offline.NewStore(settings.Offline.Dir).Index()
			if err != nil {
				return err
			}
			PrintIndex(cmd.OutOrStdout(), index)
			return nil
		},
	}
}

// PrintReport summarises a sync.
func PrintReport(w io.Writer, report *offline.Report) {
	rows := make([][]string, 0, len(report.Written)+len(report.Skipped)+len(report.Failed))
	for _, cc := range report.Written {
		rows = append(rows, []string{cc, "written", strconv.Itoa(report.Index.Countries[cc].SpeciesCount)})
	}
	for _, cc := range report.Skipped {
		rows = append(rows, []string{cc, "empty", "0"})
	}
	failed := make([]string, 0, len(report.Failed))
	for cc := range report.Failed {
		failed = append(failed, cc)
	}
	slices.Sort(failed)
	for _, cc := range failed {
		rows = append(rows, []string{cc, "failed: " + report.Failed[cc].Error(), ""})
	}
	fmt.Fprintln(w, render.Table([]string{"Country", "Status", "Species"}, rows,
		[]render.Align{render.AlignLeft, render.AlignLeft, render.AlignRight}, render.Colorize(w)))
}

// PrintIndex lists every country in index.
func PrintIndex(w io.Writer, index *offline.Index) {
	codes := make([]string, 0, len(index.Countries))
	for cc := range index.Countries {
		codes = append(codes, cc)
	}
	slices.Sort(codes)

	rows := make([][]string, 0, len(codes))
	for _, cc := range codes {
		info := index.Countries[cc]
		rows = append(rows, []string{cc, info.Name, strconv.Itoa(info.SpeciesCount), info.UpdatedAt.Format(time.DateOnly)})
	}
	fmt.Fprintln(w, render.Table([]string{"Country", "Name", "Species", "Updated"}, rows,
		[]render.Align{render.AlignLeft, render.AlignLeft, render.AlignRight}, render.Colorize(w)))
	if !index.GeneratedAt.IsZero() {
		fmt.Fprintf(w, "Generated %s\n", index.GeneratedAt.Format(time.DateTime))
	}
}
