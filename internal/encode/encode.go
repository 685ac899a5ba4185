package encode

import (
	"errors"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"jpeg-capture-streamer/pkg/pixel"

	"github.com/disintegration/imaging"
)

var (
	ErrBusy           = errors.New("encode engine busy")
	ErrInvalidParams  = errors.New("invalid encode parameters")
	ErrBufferOverflow = errors.New("encoded frame exceeds buffer capacity")
)

type Status int

const (
	StatusOK Status = iota
	StatusOverflow
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOverflow:
		return "overflow"
	default:
		return "error"
	}
}

type Params struct {
	Quality  int
	Capacity int
}

// Callback receives the job status and the number of bytes written to the
// target buffer (0 unless status is StatusOK).
type Callback func(status Status, size int)

type job struct {
	src    pixel.Frame
	dst    []byte
	params Params
	done   Callback
}

// Engine compresses one frame at a time on its own goroutine. Submit never
// blocks: a second job while one is running is rejected with ErrBusy.
type Engine struct {
	busy     atomic.Bool
	jobs     chan job
	images   sync.Pool
	slowWarn time.Duration
}

// NewEngine starts the worker. slowWarn is the job duration above which a
// warning is logged; zero disables it.
func NewEngine(slowWarn time.Duration) *Engine {
	e := &Engine{
		jobs:     make(chan job, 1),
		slowWarn: slowWarn,
	}
	go e.worker()
	return e
}

func (e *Engine) Submit(src pixel.Frame, dst []byte, params Params, done Callback) error {
	if done == nil || params.Quality < 1 || params.Quality > 100 ||
		params.Capacity <= 0 || params.Capacity > len(dst) {
		return ErrInvalidParams
	}
	if err := src.Validate(); err != nil {
		return ErrInvalidParams
	}
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	select {
	case e.jobs <- job{src: src, dst: dst, params: params, done: done}:
		return nil
	default:
		e.busy.Store(false)
		return ErrBusy
	}
}

func (e *Engine) Busy() bool {
	return e.busy.Load()
}

func (e *Engine) worker() {
	for j := range e.jobs {
		start := time.Now()
		status, size := e.encode(j)

		// Release before the callback so the completion handler's view of
		// the engine is already idle.
		e.busy.Store(false)
		j.done(status, size)

		if elapsed := time.Since(start); e.slowWarn > 0 && elapsed > e.slowWarn {
			log.Printf("[WARN] encoding delay detected: %v", elapsed)
		}
	}
}

func (e *Engine) encode(j job) (Status, int) {
	img := e.image(j.src.Width, j.src.Height)
	defer e.images.Put(img)

	if !j.src.ReadInto(img) {
		return StatusError, 0
	}

	w := &boundedWriter{buf: j.dst[:j.params.Capacity]}
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(j.params.Quality)); err != nil {
		if errors.Is(err, ErrBufferOverflow) {
			return StatusOverflow, 0
		}
		log.Printf("[ENCODE] JPEG encoding error: %v", err)
		return StatusError, 0
	}
	return StatusOK, w.n
}

func (e *Engine) image(width, height int) *image.YCbCr {
	if v := e.images.Get(); v != nil {
		img := v.(*image.YCbCr)
		if img.Rect.Dx() == width && img.Rect.Dy() == height {
			return img
		}
	}
	return image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
}

// boundedWriter writes straight into the caller's buffer and fails once the
// capacity is exhausted.
type boundedWriter struct {
	buf []byte
	n   int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if len(p) > len(w.buf)-w.n {
		return 0, ErrBufferOverflow
	}
	w.n += copy(w.buf[w.n:], p)
	return len(p), nil
}
