package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/Djaktion/object-detection-hub/pkg/nn"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

var testClasses = []string{"person", "car", "dog"}

func testFrame() *cimg.Image {
	return cimg.NewImage(64, 48, cimg.PixelFormatRGB)
}

func TestDetectFilterAndOrder(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses,
		[]nn.ObjectDetection{
			{Class: 1, Confidence: 0.40, Box: nn.MakeRect(30, 10, 50, 30)},
			{Class: 0, Confidence: 0.91, Box: nn.MakeRect(5, 5, 20, 40)},
			{Class: 2, Confidence: 0.10, Box: nn.MakeRect(1, 1, 10, 10)}, // below threshold
			{Class: 1, Confidence: 0.40, Box: nn.MakeRect(2, 10, 22, 30)},
		},
	)
	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 0, nil)

	dets, err := engine.DetectFrame(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 3)

	// Confidence descending, ties broken by label then position
	require.Equal(t, "person", dets[0].Label)
	require.Equal(t, float32(0.91), dets[0].Confidence)
	require.Equal(t, "car", dets[1].Label)
	require.Equal(t, 2, dets[1].Box.X)
	require.Equal(t, "car", dets[2].Label)
	require.Equal(t, 30, dets[2].Box.X)
}

func TestDetectClipping(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses,
		[]nn.ObjectDetection{
			{Class: 0, Confidence: 0.80, Box: nn.MakeRect(50, 40, 90, 70)},    // straddles right/bottom edge
			{Class: 1, Confidence: 0.70, Box: nn.MakeRect(-10, -5, 10, 10)},   // straddles origin
			{Class: 2, Confidence: 0.60, Box: nn.MakeRect(200, 200, 250, 250)}, // fully outside
		},
	)
	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 0, nil)

	dets, err := engine.DetectFrame(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	require.Equal(t, nn.MakeRect(50, 40, 64, 48), dets[0].Box)
	require.Equal(t, nn.MakeRect(0, 0, 10, 10), dets[1].Box)

	frame := nn.Rect{Width: 64, Height: 48}
	for _, d := range dets {
		require.Equal(t, d.Box, d.Box.Intersection(frame), "boxes must lie inside the frame")
		require.Greater(t, d.Box.Area(), 0)
	}
}

func TestDetectMergeDuplicates(t *testing.T) {
	classes := []string{"person", "car", "truck"}
	model := nn.NewScriptedDetector(640, 480, classes,
		[]nn.ObjectDetection{
			{Class: 1, Confidence: 0.90, Box: nn.MakeRect(10, 10, 50, 40)},
			{Class: 2, Confidence: 0.85, Box: nn.MakeRect(11, 11, 51, 41)}, // same pickup, reported again as a truck
			{Class: 2, Confidence: 0.80, Box: nn.MakeRect(54, 10, 64, 40)}, // a distinct truck
		},
	)
	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 0, map[string]string{"truck": "car"})

	dets, err := engine.DetectFrame(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	// The overlapping truck merged into the car; the distinct truck survives
	require.Equal(t, "car", dets[0].Label)
	require.Equal(t, float32(0.90), dets[0].Confidence)
	require.Equal(t, "truck", dets[1].Label)
	require.Equal(t, 54, dets[1].Box.X)
}

func TestDetectRetryTransient(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses,
		[]nn.ObjectDetection{
			{Class: 0, Confidence: 0.90, Box: nn.MakeRect(5, 5, 20, 20)},
		},
	)
	model.FailNext = 2
	model.Err = &nn.InferenceError{Transient: true, Err: errors.New("backend busy")}

	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 2, nil)
	engine.retryDelay = 0

	dets, err := engine.DetectFrame(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, "person", dets[0].Label)
}

func TestDetectRetriesExhausted(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses)
	model.FailNext = 10
	model.Err = &nn.InferenceError{Transient: true, Err: errors.New("backend busy")}

	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 2, nil)
	engine.retryDelay = 0

	_, err := engine.DetectFrame(context.Background(), testFrame())
	require.Error(t, err)
	require.True(t, nn.IsTransient(err))
}

func TestDetectPermanentFailureNotRetried(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses,
		[]nn.ObjectDetection{
			{Class: 0, Confidence: 0.90, Box: nn.MakeRect(5, 5, 20, 20)},
		},
	)
	model.FailNext = 1
	model.Err = &nn.InferenceError{Transient: false, Err: errors.New("model corrupt")}

	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 5, nil)
	engine.retryDelay = 0

	_, err := engine.DetectFrame(context.Background(), testFrame())
	require.Error(t, err)
	require.False(t, nn.IsTransient(err))
}

func TestDetectCancelled(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses)
	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.DetectFrame(ctx, testFrame())
	require.ErrorIs(t, err, context.Canceled)
}

func TestDetectUnknownClass(t *testing.T) {
	model := nn.NewScriptedDetector(640, 480, testClasses,
		[]nn.ObjectDetection{
			{Class: 17, Confidence: 0.90, Box: nn.MakeRect(5, 5, 20, 20)},
		},
	)
	engine := NewEngine(logs.NewTestingLog(t), model, 0.25, 0, nil)
	_, err := engine.DetectFrame(context.Background(), testFrame())
	require.Error(t, err)
}
