package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pyqfetch/internal/pipeline"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	downloadYears      []int
	downloadAnswerText bool
	downloadRefresh    bool
)

func init() {
	downloadCmd.Flags().IntSliceVar(&downloadYears, "years", nil, "Only download papers of these years (default: every year in the listing).")
	downloadCmd.Flags().BoolVar(&downloadAnswerText, "answer-text", true, "Add the text of the correct option to every question that has one.")
	downloadCmd.Flags().BoolVar(&downloadRefresh, "refresh", false, "Fetch the listing again even if it is cached.")
	rootCmd.AddCommand(downloadCmd)
}

// progressView renders pipeline events as a single progress bar.
type progressView struct {
	writer  progress.Writer
	tracker *progress.Tracker
}

func newProgressView(total int) progressView {
	pw := progress.NewWriter()
	pw.SetAutoStop(false)
	pw.SetTrackerLength(40)
	pw.SetOutputWriter(os.Stdout)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Time = true

	tracker := &progress.Tracker{
		Message: "Downloading",
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)
	go pw.Render()

	return progressView{writer: pw, tracker: tracker}
}

func (v progressView) onEvent(e pipeline.Event) {
	switch e.Phase {
	case pipeline.PhasePaper:
		v.tracker.UpdateMessage(fmt.Sprintf("Paper %d/%d (%d)", e.Index, e.Total, e.Year))
	case pipeline.PhaseAnswers:
		v.tracker.UpdateMessage(fmt.Sprintf("Answers %d/%d (%d)", e.Index, e.Total, e.Year))
	case pipeline.PhaseBackoff:
		v.tracker.UpdateMessage(fmt.Sprintf("Rate limited, waiting %s", e.Wait))
	case pipeline.PhaseDone, pipeline.PhaseFailed:
		v.tracker.Increment(1)
	}
}

func (v progressView) stop() {
	v.tracker.MarkAsDone()
	v.writer.Stop()
	for v.writer.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download <exam> [--years 2024,2023] [--answer-text=false] [--refresh]",
	Short: "Downloads, stores and cleans the papers of an exam.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := cfg.RequireAuthCode()
		if err != nil {
			return err
		}
		p, session, err := newPipeline(args[0])
		if err != nil {
			return err
		}

		listing, err := p.LoadListing(cmd.Context(), cfg.StartYear, cfg.EndYear, downloadRefresh, logListingProgress)
		if err != nil {
			return err
		}
		items := pipeline.FilterByYears(listing.Items, downloadYears)
		if len(items) == 0 {
			fmt.Println("Nothing to download for the selected years.")
			return nil
		}

		view := newProgressView(len(items))
		result, runErr := p.DownloadAndClean(cmd.Context(), items, downloadAnswerText, view.onEvent)
		view.stop()

		t := newTable()
		t.SetTitle("Results")
		t.AppendRow(table.Row{"Success", result.Success})
		t.AppendRow(table.Row{"Failed", result.Failed})
		t.AppendRow(table.Row{"Cleaned", filepath.Join(session.BaseDir, "cleaned")})
		t.AppendRow(table.Row{"Raw", filepath.Join(session.BaseDir, "raw")})
		t.Render()

		if runErr != nil {
			return fmt.Errorf("download interrupted after %d of %d papers: %w", result.Success+result.Failed, len(items), runErr)
		}
		if result.Success == 0 {
			return errors.New("every paper failed, rerun with --debug for details")
		}
		return nil
	},
}
