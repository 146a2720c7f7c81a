package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Djaktion/object-detection-hub/pkg/nn"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
)

// Detection is a single detected object, with the class resolved to its label.
// The box is in frame pixel coordinates, clipped to the frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        nn.Rect `json:"box"`
}

// Minimum IoU for two detections of aliased classes to count as duplicates
const duplicateMergeIoU = 0.8

// Engine runs a neural network over frames and turns the raw NN output into
// a clean detection list: confidence filtered, clipped to the frame, duplicate
// aliased classes merged, labels resolved, and deterministically ordered.
// An Engine is safe for concurrent use. If the underlying model declares
// itself not concurrent-safe, the engine serializes calls to it.
type Engine struct {
	log           logs.Log
	model         nn.ObjectDetector
	minConfidence float32
	maxRetries    int
	retryDelay    time.Duration
	mergeAliases  map[string]string

	serialize bool
	modelLock sync.Mutex
}

// The mergeAliases map collapses near-identical detections of aliased classes,
// eg with {"truck": "car"} a pickup reported as both classes keeps only the car.
func NewEngine(log logs.Log, model nn.ObjectDetector, minConfidence float32, maxRetries int, mergeAliases map[string]string) *Engine {
	if minConfidence <= 0 {
		minConfidence = nn.DefaultProbabilityThreshold
	}
	return &Engine{
		log:           log,
		model:         model,
		minConfidence: minConfidence,
		maxRetries:    maxRetries,
		retryDelay:    100 * time.Millisecond,
		mergeAliases:  mergeAliases,
		serialize:     !model.ConcurrentSafe(),
	}
}

func (e *Engine) MinConfidence() float32 {
	return e.minConfidence
}

func (e *Engine) Classes() []string {
	return e.model.Config().Classes
}

// DetectFrame runs the model on one RGB frame.
// Transient inference failures are retried with a short backoff, up to the
// engine's retry limit. Any other failure, or exhausting the retries, aborts.
func (e *Engine) DetectFrame(ctx context.Context, img *cimg.Image) ([]Detection, error) {
	crop := nn.WholeImage(img.NChan(), img.Pixels, img.Width, img.Height)

	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = e.minConfidence

	var objects []nn.ObjectDetection
	var err error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		objects, err = e.runModel(crop, params)
		if err == nil {
			break
		}
		if !nn.IsTransient(err) || attempt >= e.maxRetries {
			return nil, err
		}
		e.log.Warnf("Inference attempt %v failed (%v), retrying", attempt+1, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.retryDelay << attempt):
		}
	}

	return e.refine(objects, img.Width, img.Height)
}

func (e *Engine) runModel(crop nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if e.serialize {
		e.modelLock.Lock()
		defer e.modelLock.Unlock()
	}
	return nn.TiledInference(e.model, crop, params)
}

// refine filters, clips, merges duplicates, labels and orders the raw NN output
func (e *Engine) refine(objects []nn.ObjectDetection, width, height int) ([]Detection, error) {
	classes := e.model.Config().Classes
	frame := nn.Rect{X: 0, Y: 0, Width: width, Height: height}
	kept := make([]nn.ObjectDetection, 0, len(objects))
	for _, obj := range objects {
		if obj.Confidence < e.minConfidence {
			continue
		}
		box := obj.Box.Intersection(frame)
		if box.Area() <= 0 {
			// Entirely outside the frame
			continue
		}
		if obj.Class < 0 || obj.Class >= len(classes) {
			return nil, fmt.Errorf("Model returned class %v, but it only has %v classes", obj.Class, len(classes))
		}
		obj.Box = box
		kept = append(kept, obj)
	}

	if len(e.mergeAliases) != 0 {
		retain := nn.MergeDuplicateObjects(kept, e.mergeAliases, classes, duplicateMergeIoU)
		merged := make([]nn.ObjectDetection, 0, len(retain))
		for _, i := range retain {
			merged = append(merged, kept[i])
		}
		kept = merged
	}

	out := make([]Detection, 0, len(kept))
	for _, obj := range kept {
		out = append(out, Detection{
			Label:      classes[obj.Class],
			Confidence: obj.Confidence,
			Box:        obj.Box,
		})
	}

	// Deterministic order: confidence descending, then label, then position
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.Box.X != b.Box.X {
			return a.Box.X < b.Box.X
		}
		return a.Box.Y < b.Box.Y
	})
	return out, nil
}
