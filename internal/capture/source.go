package capture

import (
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/kbinani/screenshot"
)

type ScreenSource struct {
	bounds image.Rectangle
}

func NewScreenSource(displayIndex int) (*ScreenSource, error) {
	n := screenshot.NumActiveDisplays()
	if displayIndex < 0 || displayIndex >= n {
		return nil, fmt.Errorf("display index %d out of range (%d active displays)", displayIndex, n)
	}
	return &ScreenSource{bounds: screenshot.GetDisplayBounds(displayIndex)}, nil
}

func (s *ScreenSource) Grab() (image.Image, func(), error) {
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return nil, nil, err
	}
	return img, noRelease, nil
}

// PatternSource draws colour bars that scroll one column per frame, so
// consecutive frames always differ.
type PatternSource struct {
	width, height int
	seq           atomic.Uint64
}

var bars = []color.RGBA{
	{0xff, 0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00, 0xff},
	{0x00, 0xff, 0xff, 0xff},
	{0x00, 0xff, 0x00, 0xff},
	{0xff, 0x00, 0xff, 0xff},
	{0xff, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0xff},
}

func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{width: width, height: height}
}

func (p *PatternSource) Grab() (image.Image, func(), error) {
	seq := p.seq.Add(1)
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := max(p.width/len(bars), 1)
	shift := int(seq % uint64(p.width))
	for x := 0; x < p.width; x++ {
		c := bars[((x+shift)/barWidth)%len(bars)]
		for y := 0; y < p.height; y++ {
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = c.R, c.G, c.B, c.A
		}
	}
	return img, noRelease, nil
}

// Seq is the number of frames produced so far.
func (p *PatternSource) Seq() uint64 {
	return p.seq.Load()
}
