package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vost-pt/meios-dashboard/internal/config"
	"github.com/vost-pt/meios-dashboard/internal/ingestion"
	"github.com/vost-pt/meios-dashboard/internal/logging"
	"github.com/vost-pt/meios-dashboard/internal/models"
	"github.com/vost-pt/meios-dashboard/internal/pipeline"
	"github.com/vost-pt/meios-dashboard/internal/repository"
	"github.com/vost-pt/meios-dashboard/internal/views"
)

type cliFlags struct {
	snapshot string
	url      string
	file     string
	day      string
	n        int
	timeout  time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	flags := cliFlags{
		snapshot: cfg.DB.SnapshotPath,
		url:      cfg.Feed.URL,
		file:     cfg.Feed.File,
		n:        cfg.Pipeline.RecentN,
		timeout:  cfg.Feed.Timeout,
	}

	root := &cobra.Command{
		Use:          "meios",
		Short:        "Consolidate the emergency incidents feed into a local dataset",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.snapshot, "snapshot", flags.snapshot, "Dataset snapshot (CSV)")
	pf.IntVar(&flags.n, "n", flags.n, "Size of the recent window")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the feed once, merge it into the snapshot and print the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	f := refreshCmd.Flags()
	f.StringVar(&flags.url, "url", flags.url, "Incidents API URL")
	f.StringVar(&flags.file, "file", flags.file, "Read the feed from a local JSON file instead of the API")
	f.StringVar(&flags.day, "day", "", "Only incidents of this day (YYYY-MM-DD)")
	f.DurationVar(&flags.timeout, "timeout", flags.timeout, "Fetch timeout")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the dashboard views of the current snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	root.AddCommand(refreshCmd, showCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cobra.OnFinalize(stop)
	root.SetContext(ctx)
	return root
}

func runRefresh(ctx context.Context, out io.Writer, flags cliFlags) error {
	var filter models.Filter
	if flags.day != "" {
		day, err := time.Parse("2006-01-02", flags.day)
		if err != nil {
			return fmt.Errorf("invalid --day %q: %w", flags.day, err)
		}
		filter.Day = day
	}

	var source pipeline.Source
	if flags.file != "" {
		source = ingestion.NewFileFetcher(flags.file)
	} else {
		source = ingestion.NewHTTPFetcher(flags.url, flags.timeout)
	}

	p := pipeline.New(source, repository.NewCSVSnapshot(flags.snapshot), pipeline.Options{
		RecentN:      flags.n,
		FetchTimeout: flags.timeout,
	})
	if err := p.Init(ctx); err != nil {
		return err
	}
	snap, err := p.Refresh(ctx, filter)
	if err != nil {
		return err
	}

	if snap.Empty {
		fmt.Fprintln(out, "no incidents reported")
	}
	return writeTable(out, snap.Dashboard.Table)
}

func writeTable(out io.Writer, rows []views.Row) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOUR\tDISTRICT\tNATUREZA\tSTATUS\tTOTAL_MEIOS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.Hour, r.District, r.Natureza, r.Status, r.TotalMeios)
	}
	return tw.Flush()
}

func runShow(ctx context.Context, out io.Writer, flags cliFlags) error {
	ds, err := repository.NewCSVSnapshot(flags.snapshot).Load(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(views.Build(ds, flags.n))
}
