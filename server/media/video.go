package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bmharper/cimg/v2"
)

// videoSource streams frames out of an ffmpeg rawvideo pipe
type videoSource struct {
	info   StreamInfo
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	next   int
	closed bool
}

// ffprobe's JSON output, limited to the fields we ask for
type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"` // eg "30000/1001"
		NBFrames   string `json:"nb_frames"`    // often absent or "N/A"
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"` // seconds, as a string
	} `json:"format"`
}

func (n *Ingestor) openVideo(filename string) (*videoSource, error) {
	info, err := n.probe(filename)
	if err != nil {
		return nil, err
	}

	stderr := &bytes.Buffer{}
	cmd := exec.Command(n.ffmpegPath,
		"-v", "error",
		"-i", filename,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to create ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start ffmpeg: %w", err)
	}

	return &videoSource{
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// probe asks ffprobe for the stream geometry, frame rate and frame count
func (n *Ingestor) probe(filename string) (StreamInfo, error) {
	cmd := exec.Command(n.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "json",
		filename,
	)
	out, err := cmd.Output()
	if err != nil {
		return StreamInfo{}, fmt.Errorf("%w: ffprobe failed on %v: %v", ErrUnsupportedMedia, filename, err)
	}
	probed := probeOutput{}
	if err := json.Unmarshal(out, &probed); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: unreadable ffprobe output for %v: %v", ErrUnsupportedMedia, filename, err)
	}
	if len(probed.Streams) == 0 {
		return StreamInfo{}, fmt.Errorf("%w: %v has no video stream", ErrUnsupportedMedia, filename)
	}
	stream := probed.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("%w: %v has invalid dimensions %vx%v", ErrUnsupportedMedia, filename, stream.Width, stream.Height)
	}

	fps := parseFrameRate(stream.RFrameRate)
	if fps <= 0 {
		fps = 25
	}
	duration, _ := strconv.ParseFloat(probed.Format.Duration, 64)

	frameCount, err := strconv.Atoi(stream.NBFrames)
	if err != nil || frameCount <= 0 {
		// Containers such as webm don't record nb_frames, so estimate from duration
		frameCount = int(math.Round(duration * fps))
	}

	return StreamInfo{
		Kind:       KindVideo,
		Width:      stream.Width,
		Height:     stream.Height,
		FPS:        fps,
		FrameCount: frameCount,
		Duration:   time.Duration(duration * float64(time.Second)),
	}, nil
}

// parseFrameRate parses an ffprobe rational such as "30000/1001"
func parseFrameRate(r string) float64 {
	num, den, found := strings.Cut(r, "/")
	if !found {
		fps, _ := strconv.ParseFloat(r, 64)
		return fps
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func (s *videoSource) Info() StreamInfo {
	return s.info
}

func (s *videoSource) Next() (*Frame, error) {
	if s.closed {
		return nil, io.EOF
	}
	img := cimg.NewImage(s.info.Width, s.info.Height, cimg.PixelFormatRGB)
	if _, err := io.ReadFull(s.stdout, img.Pixels); err != nil {
		if err == io.EOF {
			s.finish()
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			// Decoder died mid-frame
			s.finish()
			return nil, fmt.Errorf("%w: truncated frame %v: %v", ErrUnsupportedMedia, s.next, strings.TrimSpace(s.stderr.String()))
		}
		return nil, fmt.Errorf("Failed to read frame %v: %w", s.next, err)
	}
	frame := &Frame{
		Index: s.next,
		Image: img,
	}
	if s.info.FPS > 0 {
		frame.PTS = time.Duration(float64(s.next) / s.info.FPS * float64(time.Second))
	}
	s.next++
	return frame, nil
}

func (s *videoSource) finish() {
	if !s.closed {
		s.closed = true
		s.stdout.Close()
		s.cmd.Wait()
	}
}

func (s *videoSource) Close() {
	if !s.closed {
		s.closed = true
		s.stdout.Close()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
	}
}
