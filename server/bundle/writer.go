package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Djaktion/object-detection-hub/server/stats"
)

// Writer stages one bundle and commits it atomically.
// Use it as:
//
//	w, _ := store.NewWriter(id)
//	defer w.Discard()
//	... write artifacts ...
//	err := w.Commit()
//
// Discard after a successful Commit is a no-op, so the deferred call makes
// every exit path clean up the staging directory.
type Writer struct {
	store      *Store
	analysisID string
	dir        string
	committed  bool
}

func (s *Store) NewWriter(analysisID string) (*Writer, error) {
	dir := s.randomTmpDir()
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, storageErr("mkdir", dir, err)
	}
	return &Writer{
		store:      s,
		analysisID: analysisID,
		dir:        dir,
	}, nil
}

// Dir is the staging directory. Collaborators that produce file artifacts
// (eg the video assembler) write directly into it before Commit.
func (w *Writer) Dir() string {
	return w.dir
}

// AnnotatedVideoPath is where the assembler should write the annotated mp4
func (w *Writer) AnnotatedVideoPath() string {
	return filepath.Join(w.dir, AnnotatedVideoFilename)
}

func (w *Writer) WriteMeta(meta *Meta) error {
	return w.writeJSON(metaFilename, meta)
}

// WriteDetections writes both detection views: the per-frame list, and the
// flat row list that feeds the CSV export
func (w *Writer) WriteDetections(frames []FrameDetections) error {
	if err := w.writeJSON(perFrameFilename, frames); err != nil {
		return err
	}
	rows := []DetectionRow{}
	for _, frame := range frames {
		for _, obj := range frame.Objects {
			rows = append(rows, DetectionRow{
				FrameIndex: frame.FrameIndex,
				Label:      obj.Label,
				Confidence: obj.Confidence,
				X1:         obj.Box.X,
				Y1:         obj.Box.Y,
				X2:         obj.Box.X2(),
				Y2:         obj.Box.Y2(),
			})
		}
	}
	return w.writeJSON(detectionsFilename, rows)
}

func (w *Writer) WriteStats(counts stats.Counts) error {
	return w.writeJSON(statsFilename, counts)
}

func (w *Writer) WritePreview(jpeg []byte) error {
	path := filepath.Join(w.dir, previewFilename)
	if err := os.WriteFile(path, jpeg, 0666); err != nil {
		return storageErr("write", path, err)
	}
	return nil
}

func (w *Writer) writeJSON(filename string, value any) error {
	path := filepath.Join(w.dir, filename)
	raw, err := json.MarshalIndent(value, "", "\t")
	if err != nil {
		return storageErr("marshal", path, err)
	}
	if err := os.WriteFile(path, raw, 0666); err != nil {
		return storageErr("write", path, err)
	}
	return nil
}

// Commit renames the staged bundle into its final location.
// If a bundle for this analysis already exists, the old one is swapped out
// and removed only after the new one is in place.
func (w *Writer) Commit() error {
	final := w.store.Path(w.analysisID)

	old := ""
	if _, err := os.Stat(final); err == nil {
		old = w.store.randomTmpDir()
		if err := os.Rename(final, old); err != nil {
			return storageErr("swap", final, err)
		}
	}
	if err := os.Rename(w.dir, final); err != nil {
		if old != "" {
			// Put the previous bundle back, so a failed rewrite doesn't lose it
			os.Rename(old, final)
		}
		return storageErr("rename", final, err)
	}
	w.committed = true
	if old != "" {
		os.RemoveAll(old)
	}
	w.store.log.Debugf("Committed bundle %v", w.analysisID)
	return nil
}

// Discard removes the staging directory. No-op after a successful Commit.
func (w *Writer) Discard() {
	if w.committed {
		return
	}
	os.RemoveAll(w.dir)
}
