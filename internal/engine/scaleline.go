package engine

import (
	"math"
	"strconv"
	"sync"
)

var leadingDigits = [3]float64{1, 2, 5}

// ScaleBar is the rendered state of a ScaleLine.
type ScaleBar struct {
	Width int    // bar width in pixels
	Label string // e.g. "50 km"
	Steps int    // number of bar segments
}

// ScaleLineOptions configures a ScaleLine.
type ScaleLineOptions struct {
	MinWidth int
	Bar      bool
	Steps    int
}

// ScaleLine is a metric scale indicator. It picks the smallest 1/2/5 × 10^n
// length that is at least MinWidth pixels wide at the view center.
type ScaleLine struct {
	opts ScaleLineOptions

	mu  sync.Mutex
	bar ScaleBar
	ok  bool
}

// NewScaleLine creates a scale line. MinWidth defaults to 64, Steps to 4.
func NewScaleLine(opts ScaleLineOptions) *ScaleLine {
	if opts.MinWidth <= 0 {
		opts.MinWidth = 64
	}
	if opts.Steps <= 0 {
		opts.Steps = 4
	}
	return &ScaleLine{opts: opts}
}

// Update implements Control.
func (s *ScaleLine) Update(f Frame) {
	if f.Resolution <= 0 {
		return
	}
	bar := computeScaleBar(PointResolution(f.Resolution, f.Center), s.opts.MinWidth)
	if s.opts.Bar {
		bar.Steps = s.opts.Steps
	}
	s.mu.Lock()
	s.bar, s.ok = bar, true
	s.mu.Unlock()
}

// Bar returns the last computed bar; ok is false before the first frame.
func (s *ScaleLine) Bar() (ScaleBar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bar, s.ok
}

// computeScaleBar picks the bar length for mpp meters per pixel.
func computeScaleBar(mpp float64, minWidth int) ScaleBar {
	nominal := float64(minWidth) * mpp
	suffix, perMeter := "km", 0.001
	switch {
	case nominal < 0.001:
		suffix, perMeter = "μm", 1e6
	case nominal < 1:
		suffix, perMeter = "mm", 1e3
	case nominal < 1000:
		suffix, perMeter = "m", 1
	}
	upp := mpp * perMeter

	i := 3 * int(math.Floor(math.Log10(float64(minWidth)*upp)))
	var count float64
	var width, decimals int
	for {
		decimals = int(math.Floor(float64(i) / 3))
		count = leadingDigits[((i%3)+3)%3] * math.Pow(10, float64(decimals))
		width = int(math.Round(count / upp))
		if width >= minWidth {
			break
		}
		i++
	}

	prec := 0
	if decimals < 0 {
		prec = -decimals
	}
	return ScaleBar{
		Width: width,
		Label: strconv.FormatFloat(count, 'f', prec, 64) + " " + suffix,
	}
}
