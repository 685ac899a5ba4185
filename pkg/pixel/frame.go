// Package pixel describes the packed YCbCr 4:2:2 frame buffer shared between
// capture and encode.
package pixel

import (
	"errors"
	"image"
	"image/color"
)

const (
	BytesPerPixel = 2
	strideAlign   = 32

	blackY = 0x10
	blackC = 0x80
)

var ErrGeometry = errors.New("invalid frame geometry")

// Frame is a packed Y0 Cb Y1 Cr buffer. Pix is shared memory: whoever holds a
// Frame value sees writes made through any other copy.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	Swap   SwapMode
}

// Stride returns the line length in bytes rounded up to a 32-byte boundary.
func Stride(width int) int {
	return (width*BytesPerPixel + strideAlign - 1) &^ (strideAlign - 1)
}

// NewFrame allocates a frame and fills it with black.
func NewFrame(width, height int, swap SwapMode) (*Frame, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, ErrGeometry
	}
	f := &Frame{
		Width:  width,
		Height: height,
		Stride: Stride(width),
		Swap:   swap,
	}
	f.Pix = make([]byte, f.Stride*height)
	f.Clear()
	return f, nil
}

func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || f.Width%2 != 0 {
		return ErrGeometry
	}
	if f.Stride < f.Width*BytesPerPixel || f.Stride%8 != 0 {
		return ErrGeometry
	}
	if len(f.Pix) < f.Stride*f.Height {
		return ErrGeometry
	}
	return nil
}

// Clear paints the whole buffer, padding included, black.
func (f *Frame) Clear() {
	for i := 0; i+1 < len(f.Pix); i += 2 {
		f.Pix[f.Swap.Index(i)] = blackY
		f.Pix[f.Swap.Index(i+1)] = blackC
	}
}

// Draw converts img into the frame in place. img is clipped to the frame
// bounds; uncovered pixels keep their previous value.
func (f *Frame) Draw(img image.Image) {
	b := img.Bounds()
	w := min(b.Dx(), f.Width) &^ 1
	h := min(b.Dy(), f.Height)

	rgba, _ := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		row := y * f.Stride
		for x := 0; x < w; x += 2 {
			var r0, g0, b0, r1, g1, b1 uint8
			if rgba != nil {
				p := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r0, g0, b0 = rgba.Pix[p], rgba.Pix[p+1], rgba.Pix[p+2]
				r1, g1, b1 = rgba.Pix[p+4], rgba.Pix[p+5], rgba.Pix[p+6]
			} else {
				r0, g0, b0 = rgb8(img.At(b.Min.X+x, b.Min.Y+y))
				r1, g1, b1 = rgb8(img.At(b.Min.X+x+1, b.Min.Y+y))
			}
			y0, cb0, cr0 := color.RGBToYCbCr(r0, g0, b0)
			y1, cb1, cr1 := color.RGBToYCbCr(r1, g1, b1)

			o := row + x*BytesPerPixel
			f.Pix[f.Swap.Index(o)] = y0
			f.Pix[f.Swap.Index(o+1)] = uint8((uint16(cb0) + uint16(cb1)) / 2)
			f.Pix[f.Swap.Index(o+2)] = y1
			f.Pix[f.Swap.Index(o+3)] = uint8((uint16(cr0) + uint16(cr1)) / 2)
		}
	}
}

// ReadInto unpacks the frame into dst, which must be a 4:2:2 image of the
// frame's size. It returns false when dst does not fit.
func (f *Frame) ReadInto(dst *image.YCbCr) bool {
	if dst.SubsampleRatio != image.YCbCrSubsampleRatio422 ||
		dst.Rect.Dx() != f.Width || dst.Rect.Dy() != f.Height {
		return false
	}
	for y := 0; y < f.Height; y++ {
		row := y * f.Stride
		yo := y * dst.YStride
		co := y * dst.CStride
		for x := 0; x < f.Width; x += 2 {
			o := row + x*BytesPerPixel
			dst.Y[yo+x] = f.Pix[f.Swap.Index(o)]
			dst.Cb[co+x/2] = f.Pix[f.Swap.Index(o+1)]
			dst.Y[yo+x+1] = f.Pix[f.Swap.Index(o+2)]
			dst.Cr[co+x/2] = f.Pix[f.Swap.Index(o+3)]
		}
	}
	return true
}

// Luma returns the logical Y value at (x, y).
func (f *Frame) Luma(x, y int) uint8 {
	return f.Pix[f.Swap.Index(y*f.Stride+x*BytesPerPixel)]
}

func rgb8(c color.Color) (uint8, uint8, uint8) {
	r, g, b, _ := c.RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}
