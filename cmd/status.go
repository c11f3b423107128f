package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ferret/internal/store"
)

var flagJobStatus string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexing jobs and file counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		jobs, err := a.store.ListJobs(flagJobStatus)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
		}
		for _, j := range jobs {
			line := fmt.Sprintf("%s  %-8s %-10s %s", j.ID, j.Op, j.Status, j.Target)
			if j.Total > 0 && !j.Terminal() {
				line += fmt.Sprintf("  (%d/%d)", j.Processed, j.Total)
			}
			if j.ErrorCount > 0 {
				line += fmt.Sprintf("  errors=%d", j.ErrorCount)
			}
			fmt.Println(line)
		}

		for _, status := range []string{
			store.FileStatusIndexed, store.FileStatusIndexing,
			store.FileStatusPending, store.FileStatusFailed,
		} {
			_, total, err := a.store.ListFiles(store.FileFilter{Status: status, Limit: 1})
			if err != nil {
				return err
			}
			if total > 0 {
				fmt.Printf("%s files: %d\n", status, total)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&flagJobStatus, "jobs", "", "filter jobs by status")
	rootCmd.AddCommand(statusCmd)
}
