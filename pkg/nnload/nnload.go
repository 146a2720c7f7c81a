package nnload

// Package nnload wraps up our 'nn' interface layer, so that you can call one function
// to get a loaded model, without knowing about the backend implementation details.
//
// Backends register themselves with RegisterBackend. The model itself is loaded
// lazily, exactly once, the first time Detector() is called. The loaded detector is
// shared read-only by all callers thereafter.

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Djaktion/object-detection-hub/pkg/nn"
	"github.com/cyclopcam/logs"
)

// BackendFactory creates an ObjectDetector from a model config and the files at modelPath
type BackendFactory func(logger logs.Log, config *nn.ModelConfig, modelPath string) (nn.ObjectDetector, error)

var backendsLock sync.Mutex
var backends = map[string]BackendFactory{}

// RegisterBackend makes a backend available to Loader by name (eg "scripted", "ncnn")
func RegisterBackend(name string, factory BackendFactory) {
	backendsLock.Lock()
	defer backendsLock.Unlock()
	backends[name] = factory
}

// Loader owns the lifecycle of a single NN model.
// Create one with NewLoader, and call Detector() whenever you need the model.
// The first call loads the model; every subsequent call returns the same handle.
type Loader struct {
	log      logs.Log
	backend  string
	modelDir string
	model    string

	once     sync.Once
	detector nn.ObjectDetector
	err      error
}

func NewLoader(logger logs.Log, backend, modelDir, model string) *Loader {
	return &Loader{
		log:      logger,
		backend:  backend,
		modelDir: modelDir,
		model:    model,
	}
}

// Detector returns the loaded model, loading it on first use.
// Concurrent callers during the initial load block until the single load completes.
func (l *Loader) Detector() (nn.ObjectDetector, error) {
	l.once.Do(func() {
		l.detector, l.err = l.load()
	})
	return l.detector, l.err
}

// Close releases the model, if it was ever loaded
func (l *Loader) Close() {
	if l.detector != nil {
		l.detector.Close()
		l.detector = nil
	}
}

func (l *Loader) load() (nn.ObjectDetector, error) {
	backendsLock.Lock()
	factory := backends[l.backend]
	backendsLock.Unlock()
	if factory == nil {
		return nil, fmt.Errorf("Unknown NN backend '%v'", l.backend)
	}

	modelPath := filepath.Join(l.modelDir, l.model)
	config, err := nn.LoadModelConfig(modelPath + ".json")
	if err != nil {
		return nil, fmt.Errorf("Failed to load model config for '%v': %w", l.model, err)
	}

	l.log.Infof("Loading NN model %v (%vx%v, %v classes) via %v", l.model, config.Width, config.Height, len(config.Classes), l.backend)
	detector, err := factory(l.log, config, modelPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to load NN model '%v': %w", l.model, err)
	}
	return detector, nil
}
