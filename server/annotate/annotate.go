package annotate

import (
	"fmt"
	"sort"

	"github.com/Djaktion/object-detection-hub/server/detect"
	"github.com/Djaktion/object-detection-hub/server/media"
	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
)

const (
	boxLineWidth  = 2
	labelPad      = 3
	legendPad     = 6
	legendChip    = 10
	legendLineGap = 4
)

// Annotator draws detection boxes, labels and a class legend onto frames.
// Colors come from a shared ColorRegistry, so a class keeps its color across
// every frame and every analysis that shares the registry.
type Annotator struct {
	colors *ColorRegistry
}

func NewAnnotator(colors *ColorRegistry) *Annotator {
	return &Annotator{
		colors: colors,
	}
}

// Annotate returns a new frame with the detections drawn on it.
// The input frame is never modified.
func (a *Annotator) Annotate(img *cimg.Image, dets []detect.Detection) *cimg.Image {
	rgba := media.ToRGBA(img)
	dc := gg.NewContextForRGBA(rgba)

	for _, d := range dets {
		a.drawBox(dc, d)
	}
	a.drawLegend(dc, img.Width, dets)

	return media.FromRGBA(rgba)
}

func (a *Annotator) drawBox(dc *gg.Context, d detect.Detection) {
	c := a.colors.ColorOf(d.Label)
	dc.SetColor(c)
	dc.SetLineWidth(boxLineWidth)
	dc.DrawRectangle(float64(d.Box.X), float64(d.Box.Y), float64(d.Box.Width), float64(d.Box.Height))
	dc.Stroke()

	label := fmt.Sprintf("%v %.2f", d.Label, d.Confidence)
	tw, th := dc.MeasureString(label)

	// Label plate sits above the box, or inside it when the box touches the top edge
	px := float64(d.Box.X)
	py := float64(d.Box.Y) - th - 2*labelPad
	if py < 0 {
		py = float64(d.Box.Y)
	}
	dc.SetColor(c)
	dc.DrawRectangle(px, py, tw+2*labelPad, th+2*labelPad)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawString(label, px+labelPad, py+labelPad+th)
}

// drawLegend renders the per-class counts of this frame in the top-right corner
func (a *Annotator) drawLegend(dc *gg.Context, frameWidth int, dets []detect.Detection) {
	if len(dets) == 0 {
		return
	}
	counts := map[string]int{}
	for _, d := range dets {
		counts[d.Label]++
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	maxTextW := 0.0
	lineH := 0.0
	lines := make([]string, len(labels))
	for i, label := range labels {
		lines[i] = fmt.Sprintf("%v x%v", label, counts[label])
		w, h := dc.MeasureString(lines[i])
		if w > maxTextW {
			maxTextW = w
		}
		if h > lineH {
			lineH = h
		}
	}

	plateW := legendPad*2 + legendChip + legendPad + maxTextW
	plateH := legendPad + float64(len(labels))*(lineH+legendLineGap) + legendPad - legendLineGap
	x0 := float64(frameWidth) - plateW - legendPad
	if x0 < 0 {
		x0 = 0
	}
	y0 := float64(legendPad)

	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRectangle(x0, y0, plateW, plateH)
	dc.Fill()

	y := y0 + legendPad
	for i, label := range labels {
		dc.SetColor(a.colors.ColorOf(label))
		dc.DrawRectangle(x0+legendPad, y+(lineH-legendChip)/2, legendChip, legendChip)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(lines[i], x0+legendPad+legendChip+legendPad, y+lineH)
		y += lineH + legendLineGap
	}
}
