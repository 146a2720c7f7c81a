package bundle

// Package bundle persists the artifacts of one analysis as a single directory,
// keyed by analysis id: metadata, detection lists, stats, preview assets and
// the annotated video. A bundle appears atomically: it is staged under a
// temporary directory and renamed into place, so readers never observe a
// half-written bundle.

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Djaktion/object-detection-hub/server/detect"
	"github.com/cyclopcam/logs"
)

const (
	metaFilename       = "meta.json"
	detectionsFilename = "detections.json"
	perFrameFilename   = "detections_per_frame.json"
	statsFilename      = "stats.json"
	previewFilename    = "preview.jpg"

	// AnnotatedVideoFilename is where the assembler writes the annotated mp4,
	// inside the staging directory
	AnnotatedVideoFilename = "annotated.mp4"

	tmpDirName = ".tmp"
)

// StorageError is any failure to persist or load a result bundle
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("Bundle storage error (%v %v): %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// Meta describes the analysis that produced a bundle
type Meta struct {
	AnalysisID    string    `json:"analysisID"`
	Filename      string    `json:"filename"`
	Kind          string    `json:"kind"`
	Model         string    `json:"model"`
	ConfThreshold float32   `json:"confThreshold"`
	FrameStride   int       `json:"frameStride"`
	FrameCount    int       `json:"frameCount"`
	SampledFrames int       `json:"sampledFrames"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FrameDetections is the detections of one sampled frame
type FrameDetections struct {
	FrameIndex int                `json:"frameIndex"`
	PTSMilli   int64              `json:"ptsMilli"`
	Objects    []detect.Detection `json:"objects"`
}

// DetectionRow is one detection in the flat detections.json list
type DetectionRow struct {
	FrameIndex int     `json:"frameIndex"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

// Store is the root directory holding all result bundles
type Store struct {
	log  logs.Log
	root string
}

func NewStore(log logs.Log, root string) (*Store, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Join(root, tmpDirName), 0777); err != nil {
		return nil, storageErr("mkdir", root, err)
	}
	return &Store{
		log:  log,
		root: root,
	}, nil
}

// Path returns the directory of the bundle for the given analysis.
// The directory only exists once a writer has committed.
func (s *Store) Path(analysisID string) string {
	return filepath.Join(s.root, analysisID)
}

func (s *Store) Exists(analysisID string) bool {
	_, err := os.Stat(s.Path(analysisID))
	return err == nil
}

func (s *Store) randomTmpDir() string {
	rnd := [8]byte{}
	rand.Read(rnd[:])
	return filepath.Join(s.root, tmpDirName, hex.EncodeToString(rnd[:]))
}
