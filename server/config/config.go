package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the hub's configuration, loaded from a JSON file.
// Any zero value falls back to the documented default.
type Config struct {
	StoragePath     string  `json:"storagePath"`     // Root for result bundles (default "results")
	DBPath          string  `json:"dbPath"`          // SQLite database filename (default "odh.sqlite" inside StoragePath)
	ModelDir        string  `json:"modelDir"`        // Path to NN model dir (default "models")
	Model           string  `json:"model"`           // NN model name (default "yolov8n_640_480")
	Backend         string  `json:"backend"`         // NN backend name (default "scripted")
	DefaultConf     float32 `json:"defaultConf"`     // Default confidence threshold (default 0.25)
	DefaultStride   int     `json:"defaultStride"`   // Default video frame stride (default 5)
	MaxWorkers      int     `json:"maxWorkers"`      // Max concurrently running analyses (default 2)
	MaxRetries      int     `json:"maxRetries"`      // Inference retry attempts for transient failures (default 2)
	MaxDurationSecs int     `json:"maxDurationSecs"` // Per-analysis wall clock limit. 0 = no limit
	FFmpegPath      string  `json:"ffmpegPath"`      // Override ffmpeg binary location
	FFprobePath     string  `json:"ffprobePath"`     // Override ffprobe binary location

	// Duplicate detections of aliased classes are merged, keeping the value's
	// class (default {"truck": "car"}). Set to {} to disable.
	MergeClasses map[string]string `json:"mergeClasses"`
}

func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = os.Getenv("ODH_CONFIG")
	}
	if filename == "" {
		filename = "odh.json"
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading %v as JSON: %w", filename, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns a config with all defaults applied, without touching the filesystem
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.StoragePath == "" {
		c.StoragePath = "results"
	}
	if c.DBPath == "" {
		c.DBPath = c.StoragePath + "/odh.sqlite"
	}
	if c.ModelDir == "" {
		c.ModelDir = "models"
	}
	if c.Model == "" {
		c.Model = "yolov8n_640_480"
	}
	if c.Backend == "" {
		c.Backend = "scripted"
	}
	if c.DefaultConf == 0 {
		c.DefaultConf = 0.25
	}
	if c.DefaultStride == 0 {
		c.DefaultStride = 5
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.MergeClasses == nil {
		c.MergeClasses = map[string]string{"truck": "car"}
	}
}

func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSecs) * time.Second
}
