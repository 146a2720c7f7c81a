package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Djaktion/object-detection-hub/pkg/nn"
	"github.com/Djaktion/object-detection-hub/server/detect"
	"github.com/Djaktion/object-detection-hub/server/stats"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	store, err := NewStore(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	return store
}

func testFrames() []FrameDetections {
	return []FrameDetections{
		{
			FrameIndex: 0,
			PTSMilli:   0,
			Objects: []detect.Detection{
				{Label: "person", Confidence: 0.91, Box: nn.MakeRect(10, 20, 40, 80)},
				{Label: "car", Confidence: 0.55, Box: nn.MakeRect(50, 30, 90, 55)},
			},
		},
		{
			FrameIndex: 10,
			PTSMilli:   400,
			Objects: []detect.Detection{
				{Label: "person", Confidence: 0.77, Box: nn.MakeRect(12, 21, 42, 82)},
			},
		},
	}
}

func writeBundle(t *testing.T, store *Store, analysisID string) {
	w, err := store.NewWriter(analysisID)
	require.NoError(t, err)
	defer w.Discard()

	meta := &Meta{
		AnalysisID:    analysisID,
		Filename:      "beach.mp4",
		Kind:          "video",
		Model:         "yolov8n_640_480",
		ConfThreshold: 0.25,
		FrameStride:   10,
		FrameCount:    100,
		SampledFrames: 10,
		CreatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, w.WriteMeta(meta))
	require.NoError(t, w.WriteDetections(testFrames()))
	counts := stats.NewCounts()
	counts.Add("person", 2)
	counts.Add("car", 1)
	require.NoError(t, w.WriteStats(counts))
	require.NoError(t, w.WritePreview([]byte("jpeg-bytes")))
	require.NoError(t, w.Commit())
}

func TestBundleRoundTrip(t *testing.T) {
	store := testStore(t)
	writeBundle(t, store, "abc123")

	r, err := store.Open("abc123")
	require.NoError(t, err)

	meta, err := r.Meta()
	require.NoError(t, err)
	require.Equal(t, "abc123", meta.AnalysisID)
	require.Equal(t, 10, meta.FrameStride)

	frames, err := r.DetectionsPerFrame()
	require.NoError(t, err)
	require.Equal(t, testFrames(), frames)

	rows, err := r.Detections()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, DetectionRow{FrameIndex: 0, Label: "person", Confidence: 0.91, X1: 10, Y1: 20, X2: 40, Y2: 80}, rows[0])

	counts, err := r.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(2), counts["person"])
}

func TestBundleRewriteIdempotent(t *testing.T) {
	store := testStore(t)
	writeBundle(t, store, "abc123")

	r, err := store.Open("abc123")
	require.NoError(t, err)
	first, err := r.Detections()
	require.NoError(t, err)

	writeBundle(t, store, "abc123")
	r2, err := store.Open("abc123")
	require.NoError(t, err)
	second, err := r2.Detections()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDiscardLeavesNoTrace(t *testing.T) {
	store := testStore(t)

	w, err := store.NewWriter("doomed")
	require.NoError(t, err)
	require.NoError(t, w.WriteMeta(&Meta{AnalysisID: "doomed"}))
	stagingDir := w.Dir()
	w.Discard()

	_, err = os.Stat(stagingDir)
	require.True(t, os.IsNotExist(err))
	require.False(t, store.Exists("doomed"))
	_, err = store.Open("doomed")
	require.Error(t, err)
	storageErr := &StorageError{}
	require.ErrorAs(t, err, &storageErr)
}

func TestFailedRewriteKeepsOldBundle(t *testing.T) {
	store := testStore(t)
	writeBundle(t, store, "abc123")

	// Start a rewrite but discard it before commit
	w, err := store.NewWriter("abc123")
	require.NoError(t, err)
	require.NoError(t, w.WriteMeta(&Meta{AnalysisID: "abc123", Filename: "other.mp4"}))
	w.Discard()

	r, err := store.Open("abc123")
	require.NoError(t, err)
	meta, err := r.Meta()
	require.NoError(t, err)
	require.Equal(t, "beach.mp4", meta.Filename, "the committed bundle must survive an abandoned rewrite")
}

func TestExportCSV(t *testing.T) {
	store := testStore(t)
	writeBundle(t, store, "abc123")

	r, err := store.Open("abc123")
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, r.ExportCSV(buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "analysis_id,frame_index,class,confidence,x1,y1,x2,y2", lines[0])
	require.Equal(t, "abc123,0,person,0.9100,10,20,40,80", lines[1])
	require.Equal(t, "abc123,10,person,0.7700,12,21,42,82", lines[3])
}

func TestAnnotatedVideoPathInsideStaging(t *testing.T) {
	store := testStore(t)
	w, err := store.NewWriter("vid1")
	require.NoError(t, err)
	defer w.Discard()

	require.Equal(t, filepath.Join(w.Dir(), AnnotatedVideoFilename), w.AnnotatedVideoPath())
	require.NoError(t, os.WriteFile(w.AnnotatedVideoPath(), []byte("mp4"), 0666))
	require.NoError(t, w.WriteMeta(&Meta{AnalysisID: "vid1"}))
	require.NoError(t, w.Commit())

	r, err := store.Open("vid1")
	require.NoError(t, err)
	raw, err := os.ReadFile(r.AnnotatedVideoPath())
	require.NoError(t, err)
	require.Equal(t, []byte("mp4"), raw)
}
