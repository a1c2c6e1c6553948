// Package pipeline drives frame sources through pose estimation,
// normalization and rep segmentation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/repform/internal/pose"
	"github.com/andresmejia3/repform/internal/segment"
	"github.com/andresmejia3/repform/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SmoothStage selects where the moving average is applied, if anywhere.
type SmoothStage string

const (
	SmoothNone   SmoothStage = "none"
	SmoothBefore SmoothStage = "before" // on normalized vectors, ahead of segmentation
	SmoothAfter  SmoothStage = "after"  // within each completed rep
)

// ParseSmoothStage accepts "", "none", "before" or "after".
func ParseSmoothStage(s string) (SmoothStage, error) {
	switch SmoothStage(s) {
	case "", SmoothNone:
		return SmoothNone, nil
	case SmoothBefore, SmoothAfter:
		return SmoothStage(s), nil
	}
	return "", fmt.Errorf("unknown smoothing stage %q (use none, before or after)", s)
}

// Config controls the per-video processing and the batch fan-out.
type Config struct {
	Shoulders    pose.ShoulderPair
	Segment      segment.Config
	Smoothing    SmoothStage
	SmoothWindow int

	// Workers bounds how many videos are processed at once.
	Workers int
	// ContinueOnError keeps the batch going when a video fails; the failure
	// is recorded in that video's result instead of aborting.
	ContinueOnError bool

	// OnFrame, if set, is called after every frame read. It may be called
	// from several goroutines during a batch.
	OnFrame func(video string, frame int)
}

// DefaultConfig mirrors the reference pipeline: 20-frame reps, shoulders 11/12, no smoothing.
func DefaultConfig() Config {
	return Config{
		Shoulders:    pose.DefaultShoulders,
		Segment:      segment.DefaultConfig(),
		Smoothing:    SmoothNone,
		SmoothWindow: pose.DefaultSmoothWindow,
		Workers:      1,
	}
}

// Driver runs videos through the pipeline. It holds no per-video state and
// may be shared between goroutines.
type Driver struct {
	newEstimator EstimatorFactory
	cfg          Config
	log          logrus.FieldLogger
}

// NewDriver creates a Driver. A nil logger discards output.
func NewDriver(factory EstimatorFactory, cfg Config, log logrus.FieldLogger) *Driver {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SmoothWindow < 1 {
		cfg.SmoothWindow = pose.DefaultSmoothWindow
	}
	if cfg.Smoothing == "" {
		cfg.Smoothing = SmoothNone
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Driver{newEstimator: factory, cfg: cfg, log: log}
}

// ProcessVideo consumes src until it is exhausted and returns the completed reps.
// A trailing partial rep is discarded. If ctx is canceled the reps completed
// so far are returned together with the context error.
func (d *Driver) ProcessVideo(ctx context.Context, src FrameSource) (types.VideoResult, error) {
	return d.processVideo(ctx, 0, src)
}

// ProcessBatch processes every source and returns one result per source in
// the same order, regardless of how many run in parallel.
func (d *Driver) ProcessBatch(ctx context.Context, srcs []FrameSource) (types.BatchResult, error) {
	results := make(types.BatchResult, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for i, src := range srcs {
		g.Go(func() error {
			res, err := d.processVideo(gctx, i, src)
			res.Err = err
			results[i] = res
			if err == nil {
				return nil
			}
			if !d.cfg.ContinueOnError {
				return err
			}
			d.log.WithError(err).WithField("video", res.Name).Error("Video failed, continuing with batch")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (d *Driver) processVideo(ctx context.Context, workerID int, src FrameSource) (res types.VideoResult, err error) {
	res.Name = src.Name()
	log := d.log.WithField("video", res.Name)

	if err := ctx.Err(); err != nil {
		return res, err
	}

	est, err := d.newEstimator(ctx, workerID)
	if err != nil {
		return res, &VideoError{Video: res.Name, Frame: -1, Err: fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)}
	}
	defer func() {
		if cerr := est.Close(); cerr != nil {
			log.WithError(cerr).Warn("Closing pose estimator")
		}
	}()

	if err := src.Open(ctx); err != nil {
		src.Close()
		return res, &VideoError{Video: res.Name, Frame: -1, Err: fmt.Errorf("open source: %w", err)}
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.WithError(cerr).Warn("Closing frame source")
		}
	}()

	seg := segment.New(d.cfg.Segment)
	var smoother *pose.Smoother
	if d.cfg.Smoothing == SmoothBefore {
		smoother = pose.NewSmoother(d.cfg.SmoothWindow)
	}
	minValues := seg.Config().MinValues

	for {
		if err := ctx.Err(); err != nil {
			res.Pending = seg.Pending()
			log.WithField("reps", len(res.Reps)).Info("Processing canceled")
			return res, err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Pending = seg.Pending()
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &VideoError{Video: res.Name, Frame: res.Frames, Err: fmt.Errorf("read frame: %w", err)}
		}
		res.Frames++
		if d.cfg.OnFrame != nil {
			d.cfg.OnFrame(res.Name, frame.Index)
		}

		landmarks, err := est.Estimate(ctx, frame)
		if err != nil {
			if errors.Is(err, types.ErrFrameRejected) {
				log.WithError(err).WithField("frame", frame.Index).Debug("Frame rejected, skipping")
				res.Skipped++
				continue
			}
			res.Pending = seg.Pending()
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &VideoError{Video: res.Name, Frame: frame.Index, Err: err}
		}

		points := pose.Flatten(landmarks)
		if len(points) == 0 || len(points) < minValues {
			res.Skipped++
			continue
		}

		vec, err := pose.Normalize(points, d.cfg.Shoulders)
		if err != nil {
			log.WithError(err).WithField("frame", frame.Index).Warn("Skipping malformed frame")
			res.Skipped++
			continue
		}
		if smoother != nil {
			vec = smoother.Push(vec)
		}

		if rep, ok := seg.Push(vec); ok {
			if d.cfg.Smoothing == SmoothAfter {
				rep = types.Rep(pose.Smooth(rep, d.cfg.SmoothWindow))
			}
			res.Reps = append(res.Reps, rep)
			log.WithFields(logrus.Fields{"frame": frame.Index, "rep": len(res.Reps)}).Debug("Rep completed")
		}
	}

	res.Pending = seg.Pending()
	if res.Pending > 0 {
		log.WithField("frames", res.Pending).Debug("Discarding partial rep")
	}
	log.WithFields(logrus.Fields{"reps": len(res.Reps), "frames": res.Frames, "skipped": res.Skipped}).Info("Video processed")
	return res, nil
}
