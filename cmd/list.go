package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/repform/internal/store"
	"github.com/andresmejia3/repform/internal/types"
	"github.com/andresmejia3/repform/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all analyzed videos in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	videos, err := DB.ListVideos(ctx)
	if err != nil {
		utils.ShowError("Failed to list videos", err, nil)
		return err
	}

	if len(videos) == 0 {
		fmt.Println("No videos found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tLABEL\tREPS\tINDEXED")
	fmt.Fprintln(w, "--\t----\t-----\t----\t-------")

	for _, v := range videos {
		label := v.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", v.ID[:12], v.Path, label, v.RepCount, v.IndexedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// resolveVideo finds the stored video whose ID starts with prefix.
func resolveVideo(ctx context.Context, prefix string) (types.VideoSummary, error) {
	videos, err := DB.ListVideos(ctx)
	if err != nil {
		return types.VideoSummary{}, err
	}
	var matches []types.VideoSummary
	for _, v := range videos {
		if v.ID == prefix {
			return v, nil
		}
		if prefix != "" && strings.HasPrefix(v.ID, prefix) {
			matches = append(matches, v)
		}
	}
	switch len(matches) {
	case 0:
		return types.VideoSummary{}, fmt.Errorf("%q: %w", prefix, store.ErrVideoNotFound)
	case 1:
		return matches[0], nil
	}
	return types.VideoSummary{}, fmt.Errorf("video ID prefix %q is ambiguous (%d matches)", prefix, len(matches))
}
