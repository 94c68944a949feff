package commands

import (
	"fmt"

	"pyqfetch/internal/exams"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(examsCmd)
}

var examsCmd = &cobra.Command{
	Use:   "exams [query]",
	Short: "Lists the configured exams, closest to query first.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := exams.NewRegistry(cfg.Exams)
		if len(registry.All()) == 0 {
			fmt.Printf("No exams configured, add them under \"exams\" in %s.\n", configPath)
			return nil
		}

		query := ""
		if len(args) > 0 {
			query = args[0]
		}

		t := newTable()
		if query == "" {
			t.AppendHeader(table.Row{"Exam", "Target", "Directory"})
			for _, target := range registry.All() {
				t.AppendRow(table.Row{target.Name, target.ID, target.Dir})
			}
		} else {
			t.AppendHeader(table.Row{"Exam", "Target", "Directory", "Similarity"})
			for _, match := range registry.Search(query) {
				t.AppendRow(table.Row{
					match.Target.Name,
					match.Target.ID,
					match.Target.Dir,
					fmt.Sprintf("%.2f", match.Similarity),
				})
			}
		}
		t.Render()
		return nil
	},
}
