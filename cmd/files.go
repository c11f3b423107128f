package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ferret/internal/store"
)

var (
	flagFileStatus string
	flagFileLimit  int
	flagFileOffset int
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List indexed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		files, total, err := a.store.ListFiles(store.FileFilter{
			Status: flagFileStatus,
			Limit:  flagFileLimit,
			Offset: flagFileOffset,
		})
		if err != nil {
			return err
		}

		for _, f := range files {
			line := fmt.Sprintf("%-8s %s", f.Status, f.Path)
			if f.Error != "" {
				line += "  (" + f.Error + ")"
			}
			fmt.Println(line)
		}
		fmt.Printf("%d of %d files\n", len(files), total)
		return nil
	},
}

func init() {
	filesCmd.Flags().StringVar(&flagFileStatus, "status", "", "filter by status (pending, indexing, indexed, failed)")
	filesCmd.Flags().IntVar(&flagFileLimit, "limit", 50, "maximum files to list")
	filesCmd.Flags().IntVar(&flagFileOffset, "offset", 0, "pagination offset")
	rootCmd.AddCommand(filesCmd)
}
