package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/repform/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <video_id> <label>",
	Short: "Tag an analyzed video, e.g. good or bad form",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLabel(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, prefix, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		err := fmt.Errorf("label must not be empty")
		utils.ShowError("Invalid label", err, nil)
		return err
	}

	video, err := resolveVideo(ctx, prefix)
	if err != nil {
		utils.ShowError("Failed to resolve video", err, nil)
		return err
	}
	if err := DB.SetLabel(ctx, video.ID, label); err != nil {
		utils.ShowError("Failed to label video", err, nil)
		return err
	}

	fmt.Printf("✅ Video %s labeled as '%s'\n", video.ID[:12], label)
	return nil
}
