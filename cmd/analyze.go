package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/repform/internal/config"
	"github.com/andresmejia3/repform/internal/pipeline"
	"github.com/andresmejia3/repform/internal/source"
	"github.com/andresmejia3/repform/internal/types"
	"github.com/andresmejia3/repform/internal/utils"
	"github.com/andresmejia3/repform/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Input is one video to analyze: a video file, or a directory of dumped frames.
type Input struct {
	Path     string
	FrameDir bool
}

// Options holds the inputs of the analyze command that are not part of the shared configuration
type Options struct {
	Inputs  []Input // in command-line order
	OutPath string
}

// inputFlag appends to a shared input list so -i and --frames-dir keep their relative order.
type inputFlag struct {
	list     *[]Input
	frameDir bool
}

func (f *inputFlag) String() string {
	var paths []string
	for _, in := range *f.list {
		if in.FrameDir == f.frameDir {
			paths = append(paths, in.Path)
		}
	}
	return "[" + strings.Join(paths, ",") + "]"
}

func (f *inputFlag) Set(path string) error {
	*f.list = append(*f.list, Input{Path: path, FrameDir: f.frameDir})
	return nil
}

func (f *inputFlag) Type() string { return "stringArray" }

var analyzeOpts Options

// newEstimatorFactory is swapped out in tests.
var newEstimatorFactory = worker.NewFactory

var analyzeCmd = &cobra.Command{
	Use:   "analyze [video...]",
	Short: "Extract poses from videos and segment them into reps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := analyzeOpts
		opts.Inputs = append([]Input(nil), opts.Inputs...)
		for _, path := range args {
			opts.Inputs = append(opts.Inputs, Input{Path: path})
		}
		return runAnalyze(cmd.Context(), opts)
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.VarP(&inputFlag{list: &analyzeOpts.Inputs}, "input", "i", "Path to a video (repeatable; positional videos are appended after all flags)")
	f.Var(&inputFlag{list: &analyzeOpts.Inputs, frameDir: true}, "frames-dir", "Directory of dumped JPEG frames to treat as one video (repeatable)")
	f.StringVarP(&analyzeOpts.OutPath, "out", "o", "", "Also export the batch result as YAML to this file")

	f.IntP("engines", "e", 1, "Number of videos processed in parallel (one pose worker each)")
	f.IntP("nth-frame", "n", 1, "Keep every nth decoded frame")
	f.IntP("window", "w", 20, "Frames per rep")
	f.Int("min-values", 20, "Minimum keypoint values (2 per joint) for a frame to count")
	f.String("smooth", "none", "Moving-average stage: none, before (segmentation) or after (within each rep)")
	f.Int("smooth-window", 3, "Moving-average window in frames")
	f.Bool("continue-on-error", false, "Keep processing the batch when a video fails")
	f.String("python", "python3", "Python interpreter for the pose worker")
	f.String("script", "python/pose_worker.py", "Pose worker script")
	f.String("worker-timeout", "30s", "Timeout for the pose worker to answer a single frame")

	for flag, key := range map[string]string{
		"engines":           config.KeyWorkers,
		"nth-frame":         config.KeyNthFrame,
		"window":            config.KeyWindowSize,
		"min-values":        config.KeyMinValues,
		"smooth":            config.KeySmoothing,
		"smooth-window":     config.KeySmoothWindow,
		"continue-on-error": config.KeyContinueOnError,
		"python":            config.KeyPython,
		"script":            config.KeyScript,
		"worker-timeout":    config.KeyWorkerTimeout,
	} {
		v.BindPFlag(key, f.Lookup(flag))
	}
	rootCmd.AddCommand(analyzeCmd)
}

// videoInput pairs a frame source with its stable ID.
type videoInput struct {
	ID     string
	Path   string
	FPS    float64 // 0 when unknown (frame directories, ffprobe missing)
	Source pipeline.FrameSource
}

// runAnalyze orchestrates a batch: register videos, run the pipeline, persist reps, report.
func runAnalyze(ctx context.Context, opts Options) error {
	if err := validateAnalyzeInputs(opts); err != nil {
		utils.ShowError("Invalid input", err, nil)
		return err
	}

	runID := uuid.NewString()
	log := Log.WithField("run_id", runID)

	inputs, err := buildInputs(ctx, opts, Cfg.NthFrame)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return err
	}
	for _, in := range inputs {
		if err := DB.EnsureVideoMetadata(ctx, in.ID, in.Path, runID); err != nil {
			utils.ShowError("Failed to register video metadata", err, nil)
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "📼 Analyzing %d video(s), run %s\n", len(inputs), runID[:8])
	fmt.Fprintf(os.Stderr, "⚙️  Spawning up to %d pose worker(s)...\n", Cfg.Pipeline.Workers)

	bar := progressbar.NewOptions(estimateFrames(ctx, opts, Cfg.NthFrame),
		progressbar.OptionSetDescription("🏋️ Segmenting reps"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	pcfg := Cfg.Pipeline
	pcfg.OnFrame = func(string, int) { bar.Add(1) }
	driver := pipeline.NewDriver(newEstimatorFactory(Cfg.Worker), pcfg, log)

	sources := make([]pipeline.FrameSource, len(inputs))
	for i, in := range inputs {
		sources[i] = in.Source
	}

	start := time.Now()
	results, runErr := driver.ProcessBatch(ctx, sources)
	bar.Finish()

	// Completed reps are kept even when the batch was interrupted.
	// Background: ctx may already be canceled by Ctrl+C.
	for i, res := range results {
		if err := DB.InsertReps(context.Background(), inputs[i].ID, res.Reps); err != nil {
			utils.ShowError(fmt.Sprintf("Failed to persist reps for %s", inputs[i].Path), err, nil)
			return err
		}
	}

	repSeconds := make([]float64, len(inputs))
	for i, in := range inputs {
		repSeconds[i] = repDuration(Cfg.Pipeline.Segment.WindowSize, Cfg.NthFrame, in.FPS)
	}

	printSummary(inputs, results, repSeconds, time.Since(start))

	if opts.OutPath != "" {
		if err := exportBatch(opts.OutPath, runID, inputs, results, repSeconds); err != nil {
			utils.ShowError("Failed to export results", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Exported results to %s\n", opts.OutPath)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Analysis interrupted, completed reps were saved")
		} else {
			utils.ShowError("Analysis failed", runErr, nil)
		}
		return runErr
	}
	if failed := results.Failed(); len(failed) > 0 {
		log.WithField("failed", len(failed)).Warn("Some videos could not be processed")
	}
	return nil
}

// validateAnalyzeInputs ensures all inputs exist before any worker is started.
// An input listed twice would share one video ID, so duplicates are rejected.
func validateAnalyzeInputs(opts Options) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("no input: pass video paths or --frames-dir")
	}
	seen := make(map[string]bool, len(opts.Inputs))
	for _, in := range opts.Inputs {
		abs, err := filepath.Abs(in.Path)
		if err != nil {
			return fmt.Errorf("unable to resolve input path %s: %w", in.Path, err)
		}
		if seen[abs] {
			return fmt.Errorf("input %s is listed more than once", in.Path)
		}
		seen[abs] = true

		info, err := os.Stat(in.Path)
		switch {
		case err != nil && in.FrameDir:
			return fmt.Errorf("unable to access frames directory %s: %w", in.Path, err)
		case err != nil:
			return fmt.Errorf("unable to access input file %s: %w", in.Path, err)
		case in.FrameDir && !info.IsDir():
			return fmt.Errorf("frames path %s is not a directory", in.Path)
		case !in.FrameDir && info.IsDir():
			return fmt.Errorf("input path %s is a directory, expected a video file (use --frames-dir for frame dumps)", in.Path)
		}
	}
	return nil
}

// buildInputs creates one frame source per input, in input order.
func buildInputs(ctx context.Context, opts Options, nthFrame int) ([]videoInput, error) {
	inputs := make([]videoInput, 0, len(opts.Inputs))
	for _, in := range opts.Inputs {
		id, err := utils.GenerateVideoID(in.Path)
		if err != nil {
			return nil, err
		}
		vi := videoInput{ID: id, Path: in.Path}
		if in.FrameDir {
			vi.Source = source.NewDirSource(in.Path, nthFrame)
		} else {
			vi.Source = source.NewFFmpegSource(in.Path, nthFrame)
			if fps, err := utils.GetVideoFPS(ctx, in.Path); err == nil {
				vi.FPS = fps
			} else {
				Log.WithError(err).WithField("video", in.Path).Debug("Frame rate unknown, rep durations will not be reported")
			}
		}
		inputs = append(inputs, vi)
	}
	return inputs, nil
}

// repDuration is the video time covered by one rep, or 0 when the frame rate is unknown.
func repDuration(windowSize, nthFrame int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(windowSize*nthFrame) / fps
}

// estimateFrames sums the sampled frame counts for the progress bar, or -1 (spinner) if any is unknown.
func estimateFrames(ctx context.Context, opts Options, nthFrame int) int {
	total := 0
	for _, in := range opts.Inputs {
		if in.FrameDir {
			return -1
		}
		n := utils.GetTotalFrames(ctx, in.Path)
		if n <= 0 {
			return -1
		}
		total += n / nthFrame
	}
	return total
}

func printSummary(inputs []videoInput, results types.BatchResult, repSeconds []float64, elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 ANALYSIS SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	totalReps := 0
	for i, res := range results {
		totalReps += len(res.Reps)
		status := "✅"
		if res.Err != nil {
			status = "❌"
		}
		fmt.Fprintf(os.Stderr, "\n%s %s (%s)\n", status, inputs[i].Path, inputs[i].ID[:12])
		fmt.Fprintf(os.Stderr, "   Reps: %d   Frames: %d   Skipped: %d   Discarded tail: %d\n",
			len(res.Reps), res.Frames, res.Skipped, res.Pending)
		if repSeconds[i] > 0 {
			fmt.Fprintf(os.Stderr, "   Rep length: %.2fs of video\n", repSeconds[i])
		}
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "   Error: %v\n", res.Err)
		}
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🏋️  Total Reps: %d in %s\n", totalReps, fmtTime(elapsed.Seconds()))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
