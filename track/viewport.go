package track

import (
	"honnef.co/go/stuff/math/mathutil"
)

// Window is the half-open time range [Start, End).
type Window struct {
	Start, End int64
}

func (w Window) Duration() int64 { return w.End - w.Start }

// Viewport maps the horizontal pixels of a track onto a time window.
type Viewport struct {
	Window
	Width float64
}

// TsAt returns the timestamp under pixel x.
func (vp Viewport) TsAt(x float64) int64 {
	return mathutil.Lerp(vp.Start, vp.End, x/vp.Width)
}

// XAt returns the pixel position of ts. Timestamps outside of the window map outside of [0, Width].
func (vp Viewport) XAt(ts int64) float64 {
	return mathutil.Lerp(0, vp.Width, float64(ts-vp.Start)/float64(vp.Duration()))
}

// Zoom scales the window by factor around the timestamp under pixel x. Factors below 1 zoom in.
func (vp Viewport) Zoom(x float64, factor float64) Viewport {
	anchor := vp.TsAt(x)
	ratio := x / vp.Width
	d := max(int64(float64(vp.Duration())*factor), 1)
	start := anchor - int64(float64(d)*ratio)
	return Viewport{Window: Window{Start: start, End: start + d}, Width: vp.Width}
}

// Pan moves the window by dx pixels.
func (vp Viewport) Pan(dx float64) Viewport {
	d := int64(dx * float64(vp.Duration()) / vp.Width)
	return Viewport{Window: Window{Start: vp.Start + d, End: vp.End + d}, Width: vp.Width}
}
