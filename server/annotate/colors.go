package annotate

import (
	"image/color"
	"math"
	"sync"
)

// The first few classes get hand-picked colors that read well on video.
// After that we walk the hue wheel by the golden ratio, which keeps
// neighboring assignments visually far apart no matter how many classes show up.
var basePalette = []color.RGBA{
	{R: 231, G: 76, B: 60, A: 255},  // red
	{R: 46, G: 204, B: 113, A: 255}, // green
	{R: 52, G: 152, B: 219, A: 255}, // blue
	{R: 241, G: 196, B: 15, A: 255}, // yellow
	{R: 155, G: 89, B: 182, A: 255}, // purple
	{R: 230, G: 126, B: 34, A: 255}, // orange
}

const goldenRatioConjugate = 0.618033988749895

// ColorRegistry assigns each class label a stable color.
// The first call for a label fixes its color for the lifetime of the registry;
// every subsequent call returns the same color, from any goroutine.
type ColorRegistry struct {
	lock   sync.Mutex
	colors map[string]color.RGBA
}

func NewColorRegistry() *ColorRegistry {
	return &ColorRegistry{
		colors: map[string]color.RGBA{},
	}
}

func (r *ColorRegistry) ColorOf(label string) color.RGBA {
	r.lock.Lock()
	defer r.lock.Unlock()
	if c, ok := r.colors[label]; ok {
		return c
	}
	c := colorForIndex(len(r.colors))
	r.colors[label] = c
	return c
}

func colorForIndex(i int) color.RGBA {
	if i < len(basePalette) {
		return basePalette[i]
	}
	hue := math.Mod(float64(i-len(basePalette))*goldenRatioConjugate, 1)
	return hsv(hue, 0.65, 0.95)
}

func hsv(h, s, v float64) color.RGBA {
	h = math.Mod(h, 1) * 6
	i := int(h)
	f := h - float64(i)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	var rf, gf, bf float64
	switch i % 6 {
	case 0:
		rf, gf, bf = v, t, p
	case 1:
		rf, gf, bf = q, v, p
	case 2:
		rf, gf, bf = p, v, t
	case 3:
		rf, gf, bf = p, q, v
	case 4:
		rf, gf, bf = t, p, v
	case 5:
		rf, gf, bf = v, p, q
	}
	return color.RGBA{
		R: uint8(rf * 255),
		G: uint8(gf * 255),
		B: uint8(bf * 255),
		A: 255,
	}
}
