package analysisdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Status is the lifecycle state of an analysis.
// Pending and Processing are transient; the other three are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// legal transitions of the analysis state machine.
// Pending -> Failed happens when an analysis exceeds its maximum duration
// before a worker slot ever picks it up.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Analysis is one submitted media analysis job
type Analysis struct {
	BaseModel
	AnalysisID    string                        `gorm:"uniqueIndex" json:"analysisID"` // Public identifier, 32 hex chars
	Filename      string                        `json:"filename"`                      // Original input filename (basename only)
	Kind          string                        `json:"kind"`                          // "image" or "video"
	Model         string                        `json:"model"`                         // NN model name used for this analysis
	ConfThreshold float32                       `json:"confThreshold"`                 // Confidence threshold used
	FrameStride   int                           `json:"frameStride"`                   // Sampling stride used (1 for images)
	Status        Status                        `json:"status"`
	Error         string                        `json:"error,omitempty"` // Populated when Status is failed
	CreatedAt     dbh.IntTime                   `json:"createdAt"`
	StartedAt     dbh.IntTime                   `json:"startedAt,omitempty"`
	FinishedAt    dbh.IntTime                   `json:"finishedAt,omitempty"`
	FrameCount    int                           `json:"frameCount"`    // Total frames in the input
	SampledFrames int                           `json:"sampledFrames"` // Frames that went through detection
	Detections    int                           `json:"detections"`    // Total detections across all sampled frames
	Summary       *dbh.JSONField[AnalysisStats] `json:"summary,omitempty"`
}

// AnalysisStats is the denormalized per-analysis summary stored on the Analysis row
type AnalysisStats struct {
	Classes map[string]int64 `json:"classes"` // Class label -> detection count
}

// ClassCount is one class's detection count for one completed analysis.
// These rows feed the global class totals and the per-class time series.
type ClassCount struct {
	BaseModel
	AnalysisID string      `gorm:"index" json:"analysisID"`
	Class      string      `gorm:"index" json:"class"`
	Count      int64       `json:"count"`
	Time       dbh.IntTime `json:"time"` // Completion time of the analysis
}
