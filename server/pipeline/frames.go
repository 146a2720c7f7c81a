package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/Djaktion/object-detection-hub/server/bundle"
	"github.com/Djaktion/object-detection-hub/server/detect"
	"github.com/Djaktion/object-detection-hub/server/media"
	"github.com/Djaktion/object-detection-hub/server/stats"
)

var timeNow = time.Now

// processFrames walks every frame of the input. Sampled frames go through
// detection and annotation; the rest pass through untouched, or re-annotated
// with the last detections when CarryForward is set. Every frame (sampled or
// not) is written to the sink, so the output video keeps the input's duration.
func (r *Runner) processFrames(ctx context.Context, id string, req Request, sampler *media.Sampler, sink frameSink) ([]bundle.FrameDetections, stats.Counts, []byte, int, error) {
	frames := []bundle.FrameDetections{}
	counts := stats.NewCounts()
	var preview []byte
	var lastDets []detect.Detection
	nTotal := 0

	for {
		// Cancellation takes effect at frame boundaries
		if ctx.Err() != nil {
			return nil, nil, nil, 0, ctx.Err()
		}
		frame, sampled, err := sampler.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, 0, stageErr(id, "decode", err)
		}
		nTotal++

		out := frame.Image
		if sampled {
			dets, err := r.engine.DetectFrame(ctx, frame.Image)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, nil, 0, ctx.Err()
				}
				return nil, nil, nil, 0, stageErr(id, "detect", err)
			}
			if dets == nil {
				dets = []detect.Detection{}
			}
			lastDets = dets
			for _, d := range dets {
				counts.Add(d.Label, 1)
			}
			out = r.annotator.Annotate(frame.Image, dets)
			frames = append(frames, bundle.FrameDetections{
				FrameIndex: frame.Index,
				PTSMilli:   frame.PTS.Milliseconds(),
				Objects:    dets,
			})
			if preview == nil {
				if preview, err = media.CompressJPEG(out, previewJPEGQuality); err != nil {
					return nil, nil, nil, 0, stageErr(id, "preview", err)
				}
			}
		} else if req.CarryForward && len(lastDets) > 0 {
			out = r.annotator.Annotate(frame.Image, lastDets)
		}

		if sink != nil {
			if err := sink.WriteFrame(out); err != nil {
				return nil, nil, nil, 0, stageErr(id, "assemble", err)
			}
		}
	}
	return frames, counts, preview, nTotal, nil
}
