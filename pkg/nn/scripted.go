package nn

import (
	"sync"
)

// ScriptedDetector is an ObjectDetector that replays a pre-baked script of detections.
// It stands in for a real NN backend in tests, and in the CLI's dry-run mode.
// Each call to DetectObjects pops the next frame of the script; once the script is
// exhausted, subsequent calls return no objects.
type ScriptedDetector struct {
	config ModelConfig

	lock   sync.Mutex
	script [][]ObjectDetection
	next   int

	// If FailNext is non-zero, the next FailNext calls return Err instead of objects
	FailNext int
	Err      error
}

// NewScriptedDetector creates a detector that pretends to be a model of the given
// size, with the given class list.
func NewScriptedDetector(width, height int, classes []string, script ...[]ObjectDetection) *ScriptedDetector {
	return &ScriptedDetector{
		config: ModelConfig{
			Architecture: "scripted",
			Width:        width,
			Height:       height,
			Classes:      classes,
		},
		script: script,
	}
}

func (s *ScriptedDetector) Close() {
}

func (s *ScriptedDetector) DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.FailNext > 0 {
		s.FailNext--
		return nil, s.Err
	}
	if s.next >= len(s.script) {
		return nil, nil
	}
	frame := s.script[s.next]
	s.next++
	out := make([]ObjectDetection, len(frame))
	copy(out, frame)
	return out, nil
}

func (s *ScriptedDetector) Config() *ModelConfig {
	return &s.config
}

func (s *ScriptedDetector) ConcurrentSafe() bool {
	return true
}
