package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/repform/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetYes    bool
	resetFrames string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, dumped frames)",
	Long:  "Drops all stored videos and reps. With --frames-dir it also deletes a directory of dumped frames.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		reader := bufio.NewReader(cmd.InOrStdin())

		if resetYes || confirm(reader, cmd.OutOrStdout(), "⚠️  Are you sure you want to DROP all stored videos and reps?") {
			fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing Database...")
			if err := DB.Reset(cmd.Context()); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
		}

		if resetFrames != "" {
			if resetYes || confirm(reader, cmd.OutOrStdout(), fmt.Sprintf("⚠️  Are you sure you want to delete %s?", resetFrames)) {
				fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Clearing Frames in %s...\n", resetFrames)
				removeDir(resetFrames)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().StringVar(&resetFrames, "frames-dir", "", "Also delete this directory of dumped frames")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
