package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"ferret/internal/search"
)

var (
	flagMode      string
	flagLimit     int
	flagThreshold float64
	flagFileTypes []string
)

var (
	pathStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	snippetStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	markStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		resp, err := a.engine.Search(cmd.Context(), search.Request{
			Query:     strings.Join(args, " "),
			Mode:      flagMode,
			Limit:     flagLimit,
			Threshold: flagThreshold,
			FileTypes: flagFileTypes,
		})
		if err != nil {
			return err
		}

		if resp.Degraded {
			fmt.Println(typeStyle.Render("(degraded: one search engine was unavailable)"))
		}
		if len(resp.Results) == 0 {
			fmt.Println("No results.")
			return nil
		}

		for i, r := range resp.Results {
			fmt.Printf("%2d. %s  %s %s\n", i+1,
				pathStyle.Render(r.Path),
				scoreStyle.Render(fmt.Sprintf("%.3f", r.Score)),
				typeStyle.Render("["+r.MatchType+"]"))
			if r.Snippet != "" {
				fmt.Printf("    %s\n", renderSnippet(r.Snippet))
			}
		}
		return nil
	},
}

// renderSnippet converts the index's <mark> highlighting into terminal bold.
func renderSnippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	var b strings.Builder
	for {
		open := strings.Index(s, "<mark>")
		if open < 0 {
			b.WriteString(snippetStyle.Render(s))
			break
		}
		b.WriteString(snippetStyle.Render(s[:open]))
		s = s[open+len("<mark>"):]
		end := strings.Index(s, "</mark>")
		if end < 0 {
			b.WriteString(snippetStyle.Render(s))
			break
		}
		b.WriteString(markStyle.Render(s[:end]))
		s = s[end+len("</mark>"):]
	}
	return b.String()
}

func init() {
	searchCmd.Flags().StringVar(&flagMode, "mode", search.ModeHybrid, "search mode: hybrid, semantic, or fulltext")
	searchCmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "minimum normalized score")
	searchCmd.Flags().StringSliceVar(&flagFileTypes, "type", nil, "filter by file kind (document, audio, video, image)")
	rootCmd.AddCommand(searchCmd)
}
