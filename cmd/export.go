package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/repform/internal/pose"
	"github.com/andresmejia3/repform/internal/types"
	"github.com/andresmejia3/repform/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	exportOut    string
	exportSmooth int
)

var exportCmd = &cobra.Command{
	Use:   "export <video_id>",
	Short: "Export the stored reps of a video as YAML",
	Long:  "Writes every stored rep of a video. The ID may be any unique prefix shown by 'list'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExport(cmd.Context(), args[0], exportOut, exportSmooth)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().IntVar(&exportSmooth, "smooth", 0, "Apply a moving average of this many frames to each rep (0 = off)")
	rootCmd.AddCommand(exportCmd)
}

type videoExport struct {
	ID      string      `yaml:"id"`
	Path    string      `yaml:"path"`
	Label   string      `yaml:"label,omitempty"`
	Frames  int         `yaml:"frames,omitempty"`
	Skipped int         `yaml:"skipped,omitempty"`
	Pending int         `yaml:"pending,omitempty"`
	RepSecs float64     `yaml:"rep_seconds,omitempty"`
	Error   string      `yaml:"error,omitempty"`
	Reps    []types.Rep `yaml:"reps"`
}

type batchExport struct {
	RunID  string        `yaml:"run_id,omitempty"`
	Videos []videoExport `yaml:"videos"`
}

func runExport(ctx context.Context, prefix, outPath string, smooth int) error {
	if smooth < 0 {
		err := fmt.Errorf("--smooth must be >= 0, got %d", smooth)
		utils.ShowError("Invalid input", err, nil)
		return err
	}
	video, err := resolveVideo(ctx, prefix)
	if err != nil {
		utils.ShowError("Failed to resolve video", err, nil)
		return err
	}
	reps, err := DB.GetReps(ctx, video.ID)
	if err != nil {
		utils.ShowError("Failed to load reps", err, nil)
		return err
	}
	if smooth > 0 {
		for i, rep := range reps {
			reps[i] = pose.Smooth(rep, smooth)
		}
	}

	doc := batchExport{Videos: []videoExport{{
		ID:    video.ID,
		Path:  video.Path,
		Label: video.Label,
		Reps:  reps,
	}}}
	if outPath == "" {
		return writeYAML(os.Stdout, doc)
	}
	if err := writeYAMLFile(outPath, doc); err != nil {
		utils.ShowError("Failed to write export", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "💾 Exported %d rep(s) of %s to %s\n", len(reps), video.ID[:12], outPath)
	return nil
}

// exportBatch writes the result of an analyze run, one entry per input in input order.
func exportBatch(path, runID string, inputs []videoInput, results types.BatchResult, repSeconds []float64) error {
	doc := batchExport{RunID: runID, Videos: make([]videoExport, len(results))}
	for i, res := range results {
		ve := videoExport{
			ID:      inputs[i].ID,
			Path:    inputs[i].Path,
			Frames:  res.Frames,
			Skipped: res.Skipped,
			Pending: res.Pending,
			RepSecs: repSeconds[i],
			Reps:    res.Reps,
		}
		if res.Err != nil {
			ve.Error = res.Err.Error()
		}
		doc.Videos[i] = ve
	}
	return writeYAMLFile(path, doc)
}

func writeYAMLFile(path string, doc any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeYAML(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeYAML(w io.Writer, doc any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
