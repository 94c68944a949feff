package commands

import (
	"fmt"
	"log/slog"

	"pyqfetch/internal/papers"
	"pyqfetch/internal/store"
	"pyqfetch/lib/htmlutil"

	"github.com/spf13/cobra"
)

var checkYear int

func init() {
	checkCmd.Flags().IntVar(&checkYear, "year", 0, "Only check papers of this year.")
	rootCmd.AddCommand(checkCmd)
}

func emptyParts(q papers.Question) (question bool, options []int) {
	for i, opt := range q.Options {
		if opt == "" {
			options = append(options, i)
		}
	}
	return q.Question == "", options
}

func printMarkdown(label, raw string) {
	rendered, err := htmlutil.RenderMarkdown(raw)
	if err != nil {
		slog.Warn("failed to render markdown", "err", err)
		rendered = raw
	}
	fmt.Printf("  %s:\n%s\n", label, rendered)
	for _, src := range htmlutil.ImageSources(raw) {
		fmt.Printf("    image: %s\n", src)
	}
}

var checkCmd = &cobra.Command{
	Use:   "check <exam> [--year <year>]",
	Short: "Finds questions that came out empty after cleaning and shows their original markup as markdown.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := resolveSession(args[0])
		if err != nil {
			return err
		}
		s := store.New(session.BaseDir)

		files, err := s.ListCleaned(checkYear)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No cleaned papers found, run download first.")
			return nil
		}

		flagged := 0
		for _, f := range files {
			cleaned, err := s.ReadCleaned(f)
			if err != nil {
				slog.Warn("failed to read cleaned paper", "path", f.Path, "err", err)
				continue
			}

			var raw map[string]papers.RawQuestion
			for _, q := range cleaned.Questions {
				emptyQuestion, emptyOptions := emptyParts(q)
				if !emptyQuestion && len(emptyOptions) == 0 {
					continue
				}
				flagged++

				if raw == nil {
					payload, err := s.ReadRawPaper(f)
					if err == nil {
						raw, err = papers.RawQuestions(payload)
					}
					if err != nil {
						slog.Warn("failed to read raw paper", "paper", f.Stem, "err", err)
						raw = map[string]papers.RawQuestion{}
					}
				}

				fmt.Printf("%d/%s question %s\n", f.Year, f.Stem, q.ID)
				rq, ok := raw[q.ID]
				if !ok {
					fmt.Println("  (no raw markup found)")
					continue
				}
				if emptyQuestion {
					printMarkdown("question", rq.Value)
				}
				for _, i := range emptyOptions {
					if i < len(rq.Options) {
						printMarkdown(fmt.Sprintf("option %d", i+1), rq.Options[i])
					}
				}
			}
		}

		fmt.Printf("%d papers checked, %d questions with empty text.\n", len(files), flagged)
		return nil
	},
}
