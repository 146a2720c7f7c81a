package analysisdb

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Djaktion/object-detection-hub/server/stats"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnalysisDB tracks the lifecycle and summary statistics of every analysis.
// The pixel-heavy artifacts (annotated video, detection lists) live in result
// bundles on the filesystem; this database holds the queryable metadata.
type AnalysisDB struct {
	log logs.Log
	db  *gorm.DB
}

func Open(logger logs.Log, dbFilename string) (*AnalysisDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &AnalysisDB{
		log: logger,
		db:  db,
	}, nil
}

// NewAnalysis registers a new pending analysis and returns its record
func (a *AnalysisDB) NewAnalysis(filename, kind, model string, confThreshold float32, frameStride int) (*Analysis, error) {
	id := uuid.New()
	analysis := &Analysis{
		AnalysisID:    hex.EncodeToString(id[:]),
		Filename:      filepath.Base(filename),
		Kind:          kind,
		Model:         model,
		ConfThreshold: confThreshold,
		FrameStride:   frameStride,
		Status:        StatusPending,
		CreatedAt:     dbh.MakeIntTime(time.Now()),
	}
	if err := a.db.Create(analysis).Error; err != nil {
		return nil, err
	}
	return analysis, nil
}

func (a *AnalysisDB) GetAnalysis(analysisID string) (*Analysis, error) {
	analysis := &Analysis{}
	if err := a.db.First(analysis, "analysis_id = ?", analysisID).Error; err != nil {
		return nil, err
	}
	return analysis, nil
}

// ListAnalyses returns the most recent analyses, newest first
func (a *AnalysisDB) ListAnalyses(limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 100
	}
	list := []Analysis{}
	if err := a.db.Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// SetStatus moves an analysis to a new state.
// Illegal transitions (in particular any transition out of a terminal state)
// are rejected, and the record is left untouched.
// errMsg is recorded when the new status is Failed.
func (a *AnalysisDB) SetStatus(analysisID string, status Status, errMsg string) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		analysis := &Analysis{}
		if err := tx.First(analysis, "analysis_id = ?", analysisID).Error; err != nil {
			return err
		}
		if !analysis.Status.CanTransitionTo(status) {
			return fmt.Errorf("Analysis %v: illegal status transition %v -> %v", analysisID, analysis.Status, status)
		}
		updates := map[string]any{
			"status": status,
		}
		now := dbh.MakeIntTime(time.Now())
		switch status {
		case StatusProcessing:
			updates["started_at"] = now
		case StatusCompleted, StatusFailed, StatusCancelled:
			updates["finished_at"] = now
		}
		if status == StatusFailed {
			updates["error"] = errMsg
		}
		return tx.Model(analysis).Updates(updates).Error
	})
}

// SaveSummary records the outcome of a completed analysis: frame totals and
// per-class detection counts. The per-class counts are also written as
// ClassCount rows for the aggregate queries.
func (a *AnalysisDB) SaveSummary(analysisID string, frameCount, sampledFrames int, counts stats.Counts) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		analysis := &Analysis{}
		if err := tx.First(analysis, "analysis_id = ?", analysisID).Error; err != nil {
			return err
		}
		now := dbh.MakeIntTime(time.Now())
		updates := map[string]any{
			"frame_count":    frameCount,
			"sampled_frames": sampledFrames,
			"detections":     counts.Total(),
			"summary":        dbh.MakeJSONField(AnalysisStats{Classes: counts.Clone()}),
		}
		if err := tx.Model(analysis).Updates(updates).Error; err != nil {
			return err
		}
		// Replace any counts from an earlier run of the same analysis
		if err := tx.Delete(&ClassCount{}, "analysis_id = ?", analysisID).Error; err != nil {
			return err
		}
		for _, class := range counts.Labels() {
			row := &ClassCount{
				AnalysisID: analysisID,
				Class:      class,
				Count:      counts[class],
				Time:       now,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GlobalClassCounts sums detection counts per class, across completed analyses only
func (a *AnalysisDB) GlobalClassCounts() (stats.Counts, error) {
	rows := []ClassCount{}
	err := a.db.
		Select("class_count.*").
		Joins("JOIN analysis ON analysis.analysis_id = class_count.analysis_id").
		Where("analysis.status = ?", StatusCompleted).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := stats.NewCounts()
	for _, row := range rows {
		counts.Add(row.Class, row.Count)
	}
	return counts, nil
}

// TimeSeriesPoint is one bucket of a per-class detection time series
type TimeSeriesPoint struct {
	Time  time.Time `json:"time"` // Start of the bucket
	Count int64     `json:"count"`
}

// ClassTimeSeries returns detection counts for one class, bucketed by the given
// interval (typically 24 hours), across completed analyses. Empty buckets
// between the first and last point are filled with zeros.
func (a *AnalysisDB) ClassTimeSeries(class string, bucket time.Duration) ([]TimeSeriesPoint, error) {
	if bucket <= 0 {
		bucket = 24 * time.Hour
	}
	rows := []ClassCount{}
	err := a.db.
		Select("class_count.*").
		Joins("JOIN analysis ON analysis.analysis_id = class_count.analysis_id").
		Where("analysis.status = ? AND class_count.class = ?", StatusCompleted, class).
		Order("class_count.time").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []TimeSeriesPoint{}, nil
	}

	byBucket := map[int64]int64{}
	first := int64(1<<63 - 1)
	last := int64(0)
	for _, row := range rows {
		b := row.Time.Get().UnixMilli() / bucket.Milliseconds()
		byBucket[b] += row.Count
		first = min(first, b)
		last = max(last, b)
	}

	series := []TimeSeriesPoint{}
	for b := first; b <= last; b++ {
		series = append(series, TimeSeriesPoint{
			Time:  time.UnixMilli(b * bucket.Milliseconds()).UTC(),
			Count: byBucket[b],
		})
	}
	return series, nil
}
