package encode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"jpeg-capture-streamer/pkg/pixel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	status Status
	size   int
}

func testFrame(t *testing.T, swap pixel.SwapMode) *pixel.Frame {
	t.Helper()
	f, err := pixel.NewFrame(64, 48, swap)
	require.NoError(t, err)
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 0x80, 0xff})
		}
	}
	f.Draw(img)
	return f
}

func submitAndWait(t *testing.T, e *Engine, src pixel.Frame, dst []byte, p Params) result {
	t.Helper()
	ch := make(chan result, 1)
	require.NoError(t, e.Submit(src, dst, p, func(s Status, n int) { ch <- result{s, n} }))
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for completion")
		return result{}
	}
}

func TestEncodeProducesJPEG(t *testing.T) {
	e := NewEngine(0)
	src := testFrame(t, pixel.Swap32_16_8)
	dst := make([]byte, 64*1024)

	r := submitAndWait(t, e, *src, dst, Params{Quality: 75, Capacity: len(dst)})
	require.Equal(t, StatusOK, r.status)
	require.Greater(t, r.size, 0)
	assert.Equal(t, []byte{0xff, 0xd8}, dst[:2])

	img, err := jpeg.Decode(bytes.NewReader(dst[:r.size]))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	assert.False(t, e.Busy())
}

func TestEncodeOverflow(t *testing.T) {
	e := NewEngine(0)
	src := testFrame(t, pixel.SwapNone)
	dst := make([]byte, 128)

	r := submitAndWait(t, e, *src, dst, Params{Quality: 90, Capacity: len(dst)})
	assert.Equal(t, StatusOverflow, r.status)
	assert.Equal(t, 0, r.size)
}

func TestSubmitRejectsInvalidParams(t *testing.T) {
	e := NewEngine(0)
	src := testFrame(t, pixel.SwapNone)
	dst := make([]byte, 1024)
	noop := func(Status, int) {}

	assert.ErrorIs(t, e.Submit(*src, dst, Params{Quality: 0, Capacity: 1024}, noop), ErrInvalidParams)
	assert.ErrorIs(t, e.Submit(*src, dst, Params{Quality: 50, Capacity: 2048}, noop), ErrInvalidParams)
	assert.ErrorIs(t, e.Submit(*src, dst, Params{Quality: 50, Capacity: 1024}, nil), ErrInvalidParams)

	bad := *src
	bad.Pix = bad.Pix[:16]
	assert.ErrorIs(t, e.Submit(bad, dst, Params{Quality: 50, Capacity: 1024}, noop), ErrInvalidParams)
	assert.False(t, e.Busy())
}

func TestSubmitRejectsWhileBusy(t *testing.T) {
	e := NewEngine(0)
	src := testFrame(t, pixel.SwapNone)
	dst := make([]byte, 1024)

	e.busy.Store(true)
	err := e.Submit(*src, dst, Params{Quality: 50, Capacity: 1024}, func(Status, int) {
		t.Error("rejected job must not complete")
	})
	assert.ErrorIs(t, err, ErrBusy)
	e.busy.Store(false)
}

func TestBoundedWriter(t *testing.T) {
	w := &boundedWriter{buf: make([]byte, 4)}
	n, err := w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = w.Write([]byte{4, 5})
	assert.ErrorIs(t, err, ErrBufferOverflow)
	assert.Equal(t, 3, w.n)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "overflow", StatusOverflow.String())
	assert.Equal(t, "error", StatusError.String())
}
