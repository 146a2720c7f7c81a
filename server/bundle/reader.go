package bundle

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Djaktion/object-detection-hub/server/stats"
)

// Reader provides access to a committed bundle
type Reader struct {
	dir string
}

func (s *Store) Open(analysisID string) (*Reader, error) {
	dir := s.Path(analysisID)
	if _, err := os.Stat(dir); err != nil {
		return nil, storageErr("open", dir, err)
	}
	return &Reader{dir: dir}, nil
}

func (r *Reader) Meta() (*Meta, error) {
	meta := &Meta{}
	if err := r.readJSON(metaFilename, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (r *Reader) Detections() ([]DetectionRow, error) {
	rows := []DetectionRow{}
	if err := r.readJSON(detectionsFilename, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Reader) DetectionsPerFrame() ([]FrameDetections, error) {
	frames := []FrameDetections{}
	if err := r.readJSON(perFrameFilename, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

func (r *Reader) Stats() (stats.Counts, error) {
	counts := stats.NewCounts()
	if err := r.readJSON(statsFilename, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *Reader) AnnotatedVideoPath() string {
	return filepath.Join(r.dir, AnnotatedVideoFilename)
}

func (r *Reader) PreviewPath() string {
	return filepath.Join(r.dir, previewFilename)
}

func (r *Reader) readJSON(filename string, into any) error {
	path := filepath.Join(r.dir, filename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return storageErr("read", path, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return storageErr("unmarshal", path, err)
	}
	return nil
}

// ExportCSV writes the bundle's detections as tabular rows:
// analysis_id, frame_index, class, confidence, x1, y1, x2, y2
func (r *Reader) ExportCSV(w io.Writer) error {
	meta, err := r.Meta()
	if err != nil {
		return err
	}
	rows, err := r.Detections()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"analysis_id", "frame_index", "class", "confidence", "x1", "y1", "x2", "y2"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			meta.AnalysisID,
			strconv.Itoa(row.FrameIndex),
			row.Label,
			strconv.FormatFloat(float64(row.Confidence), 'f', 4, 32),
			strconv.Itoa(row.X1),
			strconv.Itoa(row.Y1),
			strconv.Itoa(row.X2),
			strconv.Itoa(row.Y2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
