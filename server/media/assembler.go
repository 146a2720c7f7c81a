package media

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
)

// ErrEncodingFailed means the output video container could not be written.
// This is fatal for the analysis.
var ErrEncodingFailed = errors.New("Video encoding failed")

// Assembler writes a stream of RGB frames into an H.264 mp4 with the geometry and
// frame rate of the original input, via an ffmpeg rawvideo pipe.
// Frames must be written in order, and every frame of the original stream must be
// written, so that the output duration matches the input exactly.
// Call Finish() when done, or Abort() to discard. Either way, a failed assembly
// never leaves a partially written output file behind.
type Assembler struct {
	log        logs.Log
	outputPath string
	width      int
	height     int
	cmd        *exec.Cmd
	stdin      *os.File // write end of the pipe into ffmpeg
	stderr     *bytes.Buffer
	nWritten   int
	finished   bool
}

func NewAssembler(log logs.Log, ffmpegPath, outputPath string, info StreamInfo) (*Assembler, error) {
	fps := info.FPS
	if fps <= 0 {
		fps = 25
	}
	stderr := &bytes.Buffer{}
	cmd := exec.Command(ffmpegPath,
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-video_size", fmt.Sprintf("%vx%v", info.Width, info.Height),
		"-framerate", fmt.Sprintf("%.6f", fps),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-an",
		outputPath,
	)
	cmd.Stderr = stderr
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	cmd.Stdin = stdinRead
	if err := cmd.Start(); err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrEncodingFailed, err)
	}
	// The child process owns its copy of the read end
	stdinRead.Close()

	return &Assembler{
		log:        log,
		outputPath: outputPath,
		width:      info.Width,
		height:     info.Height,
		cmd:        cmd,
		stdin:      stdinWrite,
		stderr:     stderr,
	}, nil
}

// WriteFrame appends one frame to the output video
func (a *Assembler) WriteFrame(img *cimg.Image) error {
	if img.Width != a.width || img.Height != a.height {
		a.fail()
		return fmt.Errorf("%w: frame %v is %vx%v, expected %vx%v", ErrEncodingFailed, a.nWritten, img.Width, img.Height, a.width, a.height)
	}
	if _, err := a.stdin.Write(img.Pixels); err != nil {
		a.fail()
		return fmt.Errorf("%w: %v (%v)", ErrEncodingFailed, err, strings.TrimSpace(a.stderr.String()))
	}
	a.nWritten++
	return nil
}

func (a *Assembler) FramesWritten() int {
	return a.nWritten
}

// Finish closes the stream and waits for ffmpeg to finalize the container.
// On failure the partial output file is deleted.
func (a *Assembler) Finish() error {
	if a.finished {
		return nil
	}
	a.finished = true
	a.stdin.Close()
	if err := a.cmd.Wait(); err != nil {
		os.Remove(a.outputPath)
		return fmt.Errorf("%w: %v (%v)", ErrEncodingFailed, err, strings.TrimSpace(a.stderr.String()))
	}
	a.log.Debugf("Assembled %v frames into %v", a.nWritten, a.outputPath)
	return nil
}

// Abort kills the encoder and removes any partial output
func (a *Assembler) Abort() {
	a.fail()
}

func (a *Assembler) fail() {
	if a.finished {
		return
	}
	a.finished = true
	a.stdin.Close()
	if a.cmd.Process != nil {
		a.cmd.Process.Kill()
	}
	a.cmd.Wait()
	os.Remove(a.outputPath)
}
