package commands

import (
	"fmt"
	"log/slog"
	"sort"

	"pyqfetch/internal/papers"
	"pyqfetch/internal/scrapers/testbook"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	listRefresh   bool
	listStartYear int
	listEndYear   int
)

func init() {
	listCmd.Flags().BoolVar(&listRefresh, "refresh", false, "Fetch the listing again even if it is cached.")
	listCmd.Flags().IntVar(&listStartYear, "start-year", 0, "First year to sweep (defaults to the config's start_year).")
	listCmd.Flags().IntVar(&listEndYear, "end-year", 0, "Last year to sweep (defaults to the config's end_year).")
	rootCmd.AddCommand(listCmd)
}

func yearRange() (int, int, error) {
	from, to := cfg.StartYear, cfg.EndYear
	if listStartYear != 0 {
		from = listStartYear
	}
	if listEndYear != 0 {
		to = listEndYear
	}
	if from > to {
		return 0, 0, fmt.Errorf("start year %d is after end year %d", from, to)
	}
	return from, to, nil
}

func logListingProgress(p testbook.ListingProgress) {
	if p.Err != nil {
		slog.Warn("listing year failed", "year", p.Year, "err", p.Err)
		return
	}
	slog.Info("listing year", "year", p.Year, "papers", p.Found)
}

func renderYearCounts(title string, counts papers.YearCounts) {
	years := make([]int, 0, len(counts))
	total := 0
	for year, count := range counts {
		years = append(years, year)
		total += count
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	t := newTable()
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Year", "Papers"})
	for _, year := range years {
		t.AppendRow(table.Row{year, counts[year]})
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}

var listCmd = &cobra.Command{
	Use:   "list <exam> [--refresh] [--start-year <year>] [--end-year <year>]",
	Short: "Shows how many papers an exam has per year, fetching the listing if it is not cached.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := yearRange()
		if err != nil {
			return err
		}
		p, session, err := newPipeline(args[0])
		if err != nil {
			return err
		}

		listing, err := p.LoadListing(cmd.Context(), from, to, listRefresh, logListingProgress)
		if err != nil {
			return err
		}
		if listing.FromCache {
			slog.Info("using cached listing, pass --refresh to fetch it again", "dir", session.BaseDir)
		}

		renderYearCounts(fmt.Sprintf("%s - available papers", session.Target.Name), listing.Counts)
		return nil
	},
}
