package media

// Package media turns an uploaded image or video into a canonical stream of RGB frames,
// and re-assembles annotated frame streams back into a video container.
// Container work (probing, decoding, encoding) is delegated to the ffmpeg/ffprobe
// binaries; pixels cross the process boundary as raw rgb24.

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/bmharper/cimg/v2"

	_ "image/jpeg"
	_ "image/png"
)

// ErrUnsupportedMedia means the input is not a readable image or video.
// This is fatal for the analysis; it is never retried.
var ErrUnsupportedMedia = errors.New("Unsupported media")

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// StreamInfo describes a canonical frame stream
type StreamInfo struct {
	Kind       Kind
	Width      int
	Height     int
	FPS        float64       // 0 for images
	FrameCount int           // 1 for images. For video this can be an estimate until the stream is drained.
	Duration   time.Duration // 0 for images
}

// Frame is a single decoded frame.
// Frames are transient: the pixel buffer belongs to whichever stage is currently
// processing the frame, and must not be retained after the stage is done with it.
type Frame struct {
	Index int           // 0-based frame index
	PTS   time.Duration // Presentation time relative to the start of the stream
	Image *cimg.Image   // RGB, 3 channels
}

// FrameSource is sequential, forward-only access to the frames of one media input.
// It is not restartable; to read the frames again, Ingest the input again.
type FrameSource interface {
	Info() StreamInfo
	// Next returns the next frame, or io.EOF when the stream is exhausted
	Next() (*Frame, error)
	Close()
}

// Ingestor validates media inputs and opens them as frame sources
type Ingestor struct {
	ffmpegPath  string
	ffprobePath string
}

func NewIngestor(ffmpegPath, ffprobePath string) *Ingestor {
	return &Ingestor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Ingest opens the file as the declared kind.
// Returns ErrUnsupportedMedia (wrapped) if the file is not readable as that kind.
func (n *Ingestor) Ingest(filename string, kind Kind) (FrameSource, error) {
	switch kind {
	case KindImage:
		return openImage(filename)
	case KindVideo:
		return n.openVideo(filename)
	}
	return nil, fmt.Errorf("%w: unknown kind '%v'", ErrUnsupportedMedia, kind)
}

// imageSource yields a single synthetic frame
type imageSource struct {
	info StreamInfo
	img  *cimg.Image
	done bool
}

func openImage(filename string) (*imageSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	defer f.Close()
	decoded, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrUnsupportedMedia, filename, err)
	}
	rgb := toCImageRGB(decoded)
	return &imageSource{
		info: StreamInfo{
			Kind:       KindImage,
			Width:      rgb.Width,
			Height:     rgb.Height,
			FrameCount: 1,
		},
		img: rgb,
	}, nil
}

func (s *imageSource) Info() StreamInfo {
	return s.info
}

func (s *imageSource) Next() (*Frame, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return &Frame{Index: 0, PTS: 0, Image: s.img}, nil
}

func (s *imageSource) Close() {
	s.img = nil
}

// Convert a decoded stdlib image into a 3-channel RGB cimg image
func toCImageRGB(src image.Image) *cimg.Image {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	dst := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	if rgba, ok := src.(*image.RGBA); ok {
		for y := 0; y < height; y++ {
			srcRow := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
			dstRow := dst.Pixels[y*dst.Stride : y*dst.Stride+width*3]
			for x := 0; x < width; x++ {
				dstRow[x*3] = srcRow[x*4]
				dstRow[x*3+1] = srcRow[x*4+1]
				dstRow[x*3+2] = srcRow[x*4+2]
			}
		}
		return dst
	}
	for y := 0; y < height; y++ {
		row := dst.Pixels[y*dst.Stride:]
		for x := 0; x < width; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x*3] = byte(r >> 8)
			row[x*3+1] = byte(g >> 8)
			row[x*3+2] = byte(b >> 8)
		}
	}
	return dst
}

// Convert a 3-channel RGB cimg image into a stdlib RGBA image
func toRGBA(src *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		srcRow := src.Pixels[y*src.Stride : y*src.Stride+src.Width*3]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+src.Width*4]
		for x := 0; x < src.Width; x++ {
			dstRow[x*4] = srcRow[x*3]
			dstRow[x*4+1] = srcRow[x*3+1]
			dstRow[x*4+2] = srcRow[x*3+2]
			dstRow[x*4+3] = 255
		}
	}
	return dst
}

// ToRGBA exposes the RGB -> RGBA conversion for annotation
func ToRGBA(src *cimg.Image) *image.RGBA {
	return toRGBA(src)
}

// FromRGBA converts an RGBA image back into a 3-channel RGB cimg image
func FromRGBA(src *image.RGBA) *cimg.Image {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	dst := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for y := 0; y < height; y++ {
		srcRow := src.Pix[y*src.Stride : y*src.Stride+width*4]
		dstRow := dst.Pixels[y*dst.Stride : y*dst.Stride+width*3]
		for x := 0; x < width; x++ {
			dstRow[x*3] = srcRow[x*4]
			dstRow[x*3+1] = srcRow[x*4+1]
			dstRow[x*3+2] = srcRow[x*4+2]
		}
	}
	return dst
}

// CompressJPEG encodes an RGB frame as a JPEG, for preview assets
func CompressJPEG(img *cimg.Image, quality int) ([]byte, error) {
	return cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}
