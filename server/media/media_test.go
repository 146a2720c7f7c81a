package media

import (
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, filename string, width, height int) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*img.Stride + x*4
			img.Pix[i] = byte(x)
			img.Pix[i+1] = byte(y)
			img.Pix[i+2] = 100
			img.Pix[i+3] = 255
		}
	}
	f, err := os.Create(filename)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestIngestImage(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "frame.png")
	writeTestPNG(t, filename, 64, 48)

	ing := NewIngestor("ffmpeg", "ffprobe")
	src, err := ing.Ingest(filename, KindImage)
	require.NoError(t, err)
	defer src.Close()

	info := src.Info()
	require.Equal(t, KindImage, info.Kind)
	require.Equal(t, 64, info.Width)
	require.Equal(t, 48, info.Height)
	require.Equal(t, 1, info.FrameCount)

	frame, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, 0, frame.Index)
	require.Equal(t, 64, frame.Image.Width)
	// Spot-check a pixel survived the RGBA -> RGB conversion (R channel = x)
	require.Equal(t, byte(7), frame.Image.Pixels[3*frame.Image.Stride+7*3])

	_, err = src.Next()
	require.Equal(t, io.EOF, err)
}

func TestIngestUnsupported(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(filename, []byte("this is not an image"), 0644))

	ing := NewIngestor("ffmpeg", "ffprobe")
	_, err := ing.Ingest(filename, KindImage)
	require.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = ing.Ingest(filepath.Join(dir, "does-not-exist.jpg"), KindImage)
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestRGBARoundTrip(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "frame.png")
	writeTestPNG(t, filename, 10, 10)

	ing := NewIngestor("ffmpeg", "ffprobe")
	src, err := ing.Ingest(filename, KindImage)
	require.NoError(t, err)
	defer src.Close()
	frame, err := src.Next()
	require.NoError(t, err)

	rgba := ToRGBA(frame.Image)
	back := FromRGBA(rgba)
	require.Equal(t, frame.Image.Pixels, back.Pixels)
}

func requireFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
}

// End to end through real ffmpeg: synthesize a video, assemble a copy of it,
// and verify frame count and geometry survive.
func TestVideoRoundTrip(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp4")

	// 2 seconds of test pattern at 10 fps = 20 frames
	gen := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi", "-i", "testsrc=duration=2:size=64x48:rate=10",
		"-pix_fmt", "yuv420p", input)
	require.NoError(t, gen.Run())

	ing := NewIngestor("ffmpeg", "ffprobe")
	src, err := ing.Ingest(input, KindVideo)
	require.NoError(t, err)
	defer src.Close()

	info := src.Info()
	require.Equal(t, 64, info.Width)
	require.Equal(t, 48, info.Height)
	require.InDelta(t, 10.0, info.FPS, 0.01)

	output := filepath.Join(dir, "out.mp4")
	asm, err := NewAssembler(logs.NewTestingLog(t), "ffmpeg", output, info)
	require.NoError(t, err)

	nFrames := 0
	for {
		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, nFrames, frame.Index)
		require.NoError(t, asm.WriteFrame(frame.Image))
		nFrames++
	}
	require.Equal(t, 20, nFrames)
	require.NoError(t, asm.Finish())

	// The re-assembled container must have the same frame count and duration
	out, err := ing.Ingest(output, KindVideo)
	require.NoError(t, err)
	defer out.Close()
	require.Equal(t, 20, out.Info().FrameCount)
	require.InDelta(t, info.Duration.Seconds(), out.Info().Duration.Seconds(), 0.25)
}

func TestAssemblerAbort(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")

	info := StreamInfo{Kind: KindVideo, Width: 64, Height: 48, FPS: 10}
	asm, err := NewAssembler(logs.NewTestingLog(t), "ffmpeg", output, info)
	require.NoError(t, err)

	src := &fakeSource{nFrames: 5, width: 64, height: 48}
	for i := 0; i < 5; i++ {
		frame, err := src.Next()
		require.NoError(t, err)
		require.NoError(t, asm.WriteFrame(frame.Image))
	}
	asm.Abort()

	_, err = os.Stat(output)
	require.True(t, os.IsNotExist(err), "aborted assembly must not leave output behind")
}
