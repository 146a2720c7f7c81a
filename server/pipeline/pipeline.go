package pipeline

// Package pipeline runs analyses end to end: ingest, sample, detect, annotate,
// assemble, aggregate, persist. A bounded worker pool processes submitted
// analyses; each analysis moves through the state machine in analysisdb, and
// its artifacts land in a result bundle.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Djaktion/object-detection-hub/pkg/nn"
	"github.com/Djaktion/object-detection-hub/server/analysisdb"
	"github.com/Djaktion/object-detection-hub/server/annotate"
	"github.com/Djaktion/object-detection-hub/server/bundle"
	"github.com/Djaktion/object-detection-hub/server/config"
	"github.com/Djaktion/object-detection-hub/server/detect"
	"github.com/Djaktion/object-detection-hub/server/media"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
)

const previewJPEGQuality = 85

// Request is one media analysis submission
type Request struct {
	Filename      string
	Kind          media.Kind
	ConfThreshold float32 // 0 uses the configured default
	Stride        int     // 0 uses the configured default. Images always use 1.
	CarryForward  bool    // Annotate skipped frames with the last sampled frame's detections
}

// frameOpener is the ingest seam. media.Ingestor is the production implementation.
type frameOpener interface {
	Ingest(filename string, kind media.Kind) (media.FrameSource, error)
}

// frameSink receives the annotated frames of a video analysis
type frameSink interface {
	WriteFrame(img *cimg.Image) error
	Finish() error
	Abort()
}

// Runner owns the worker pool and drives every analysis through its stages
type Runner struct {
	log       logs.Log
	cfg       *config.Config
	db        *analysisdb.AnalysisDB
	store     *bundle.Store
	engine    *detect.Engine
	annotator *annotate.Annotator
	modelName string

	opener  frameOpener
	newSink func(info media.StreamInfo, outputPath string) (frameSink, error)

	sem chan struct{}
	wg  sync.WaitGroup

	lock    sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

func NewRunner(log logs.Log, cfg *config.Config, db *analysisdb.AnalysisDB, store *bundle.Store, detector nn.ObjectDetector) *Runner {
	r := &Runner{
		log:       log,
		cfg:       cfg,
		db:        db,
		store:     store,
		engine:    detect.NewEngine(log, detector, cfg.DefaultConf, cfg.MaxRetries, cfg.MergeClasses),
		annotator: annotate.NewAnnotator(annotate.NewColorRegistry()),
		modelName: cfg.Model,
		opener:    media.NewIngestor(cfg.FFmpegPath, cfg.FFprobePath),
		sem:       make(chan struct{}, cfg.MaxWorkers),
		cancels:   map[string]context.CancelFunc{},
	}
	r.newSink = func(info media.StreamInfo, outputPath string) (frameSink, error) {
		return media.NewAssembler(log, cfg.FFmpegPath, outputPath, info)
	}
	return r
}

// Submit registers a new analysis and queues it for processing.
// Returns the analysis id immediately; progress is tracked in analysisdb.
func (r *Runner) Submit(req Request) (string, error) {
	if req.Kind == media.KindImage {
		req.Stride = 1
	}
	if req.Stride == 0 {
		req.Stride = r.cfg.DefaultStride
	}
	if req.ConfThreshold == 0 {
		req.ConfThreshold = r.cfg.DefaultConf
	}

	analysis, err := r.db.NewAnalysis(req.Filename, string(req.Kind), r.modelName, req.ConfThreshold, req.Stride)
	if err != nil {
		return "", err
	}
	id := analysis.AnalysisID

	ctx := context.Background()
	var cancel context.CancelFunc
	if r.cfg.MaxDuration() > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.cfg.MaxDuration())
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		cancel()
		return "", fmt.Errorf("Runner is shut down")
	}
	r.cancels[id] = cancel
	r.lock.Unlock()

	r.wg.Add(1)
	go r.worker(ctx, id, req)
	return id, nil
}

// Cancel requests cancellation of a pending or running analysis.
// Returns false if the analysis is unknown or already finished.
func (r *Runner) Cancel(analysisID string) bool {
	r.lock.Lock()
	cancel, ok := r.cancels[analysisID]
	r.lock.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every submitted analysis has reached a terminal state
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting new submissions and waits for in-flight analyses
func (r *Runner) Close() {
	r.lock.Lock()
	r.closed = true
	r.lock.Unlock()
	r.wg.Wait()
}

func (r *Runner) worker(ctx context.Context, id string, req Request) {
	defer r.wg.Done()
	defer func() {
		r.lock.Lock()
		cancel := r.cancels[id]
		delete(r.cancels, id)
		r.lock.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	// Queue for a worker slot
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		r.finalize(id, ctx.Err())
		return
	}

	if ctx.Err() != nil {
		r.finalize(id, ctx.Err())
		return
	}
	if err := r.db.SetStatus(id, analysisdb.StatusProcessing, ""); err != nil {
		r.log.Errorf("Analysis %v: failed to mark processing: %v", id, err)
		return
	}

	err := r.analyze(ctx, id, req)
	r.finalize(id, err)
}

// finalize moves the analysis to its terminal state
func (r *Runner) finalize(id string, err error) {
	status := analysisdb.StatusCompleted
	msg := ""
	switch {
	case err == nil:
		r.log.Infof("Analysis %v completed", id)
	case errors.Is(err, context.DeadlineExceeded):
		status = analysisdb.StatusFailed
		msg = fmt.Sprintf("analysis %v: exceeded maximum duration of %v", id, r.cfg.MaxDuration())
		r.log.Warnf("%v", msg)
	case errors.Is(err, context.Canceled):
		status = analysisdb.StatusCancelled
		r.log.Infof("Analysis %v cancelled", id)
	default:
		status = analysisdb.StatusFailed
		msg = err.Error()
		r.log.Errorf("%v", err)
	}
	if e := r.db.SetStatus(id, status, msg); e != nil {
		r.log.Errorf("Analysis %v: failed to mark %v: %v", id, status, e)
	}
}

func stageErr(id, stage string, err error) error {
	return fmt.Errorf("analysis %v: %v: %w", id, stage, err)
}

// analyze runs the stage chain for one analysis.
// Any error (including cancellation) discards all partial artifacts: the
// bundle staging directory and any partially assembled video are removed.
func (r *Runner) analyze(ctx context.Context, id string, req Request) error {
	src, err := r.opener.Ingest(req.Filename, req.Kind)
	if err != nil {
		return stageErr(id, "ingest", err)
	}
	defer src.Close()

	sampler, err := media.NewSampler(src, req.Stride)
	if err != nil {
		return stageErr(id, "sample", err)
	}

	writer, err := r.store.NewWriter(id)
	if err != nil {
		return stageErr(id, "bundle", err)
	}
	defer writer.Discard()

	info := src.Info()
	var sink frameSink
	if req.Kind == media.KindVideo {
		sink, err = r.newSink(info, writer.AnnotatedVideoPath())
		if err != nil {
			return stageErr(id, "assemble", err)
		}
		defer func() {
			if sink != nil {
				sink.Abort()
			}
		}()
	}

	frames, counts, preview, nTotal, err := r.processFrames(ctx, id, req, sampler, sink)
	if err != nil {
		return err
	}

	if sink != nil {
		if err := sink.Finish(); err != nil {
			return stageErr(id, "assemble", err)
		}
		sink = nil
	}

	meta := &bundle.Meta{
		AnalysisID:    id,
		Filename:      req.Filename,
		Kind:          string(req.Kind),
		Model:         r.modelName,
		ConfThreshold: req.ConfThreshold,
		FrameStride:   req.Stride,
		FrameCount:    nTotal,
		SampledFrames: len(frames),
		CreatedAt:     timeNow(),
	}
	if err := writer.WriteMeta(meta); err != nil {
		return stageErr(id, "bundle", err)
	}
	if err := writer.WriteDetections(frames); err != nil {
		return stageErr(id, "bundle", err)
	}
	if err := writer.WriteStats(counts); err != nil {
		return stageErr(id, "bundle", err)
	}
	if preview != nil {
		if err := writer.WritePreview(preview); err != nil {
			return stageErr(id, "bundle", err)
		}
	}
	if err := writer.Commit(); err != nil {
		return stageErr(id, "bundle", err)
	}

	if err := r.db.SaveSummary(id, nTotal, len(frames), counts); err != nil {
		return stageErr(id, "finalize", err)
	}
	return nil
}
