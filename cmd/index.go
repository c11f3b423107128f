package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ferret/internal/scheduler"
	"ferret/internal/store"
)

var (
	flagRecursive  bool
	flagExtensions []string
	flagUpdate     bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a folder or file for search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		op := store.JobOpCreate
		if flagUpdate {
			op = store.JobOpUpdate
		}
		job, err := a.scheduler.Enqueue(scheduler.Request{
			Target:     target,
			Op:         op,
			Recursive:  flagRecursive,
			Extensions: flagExtensions,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Indexing %s...\n", target)
		start := time.Now()

		// The scheduler runs the job on its pool; poll until terminal.
		for {
			j, err := a.store.GetJob(job.ID)
			if err != nil {
				return err
			}
			if j.Terminal() {
				elapsed := time.Since(start).Round(time.Millisecond)
				if j.Status == store.JobStatusFailed {
					return fmt.Errorf("indexing failed after %s: %s", elapsed, j.Error)
				}
				fmt.Printf("\nDone in %s\n", elapsed)
				fmt.Printf("  Files:  %d processed\n", j.Processed)
				if j.ErrorCount > 0 {
					fmt.Printf("  Errors: %d (latest: %s)\n", j.ErrorCount, j.Error)
				}
				return nil
			}
			if j.Total > 0 {
				fmt.Printf("\r  %d/%d %s", j.Processed, j.Total, filepath.Base(j.CurrentFile))
			}
			time.Sleep(200 * time.Millisecond)
		}
	},
}

func init() {
	indexCmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", true, "descend into subdirectories")
	indexCmd.Flags().StringSliceVar(&flagExtensions, "ext", nil, "only index these extensions (default: all supported)")
	indexCmd.Flags().BoolVarP(&flagUpdate, "update", "u", false, "incremental re-scan, skipping unchanged files")
	rootCmd.AddCommand(indexCmd)
}
