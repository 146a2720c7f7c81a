package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := Rect{
		X:      0,
		Y:      0,
		Width:  10,
		Height: 10,
	}
	b := Rect{
		X:      5,
		Y:      5,
		Width:  10,
		Height: 10,
	}
	if a.IOU(b) != 0.25/(0.75+1) {
		t.Errorf("IOU is %v, not 0.25", a.IOU(b))
	}
}

func TestMakeRect(t *testing.T) {
	r := MakeRect(10, 20, 200, 300)
	require.Equal(t, 10, r.X)
	require.Equal(t, 20, r.Y)
	require.Equal(t, 200, r.X2())
	require.Equal(t, 300, r.Y2())
	require.Equal(t, 190*280, r.Area())
}

func TestIntersectionClip(t *testing.T) {
	frame := Rect{X: 0, Y: 0, Width: 100, Height: 50}
	over := MakeRect(-10, 40, 60, 90)
	clipped := over.Intersection(frame)
	require.Equal(t, MakeRect(0, 40, 60, 50), clipped)

	outside := MakeRect(200, 200, 250, 250)
	require.Equal(t, 0, outside.Intersection(frame).Area())
}
