// Package pipeline schedules hardware-style JPEG encodes of a shared capture
// frame into two alternating buffers and hands finished buffers to a sink.
//
// Three contexts touch a Pipeline:
//
//	tick source  -> Tick          (one goroutine, never blocks)
//	encode engine -> completion   (one job at a time, never blocks)
//	consumer     -> Run           (one goroutine)
//
// A buffer is written by the engine or read by the consumer, never both. New
// work is dropped instead of queued when the engine is busy, and a consumer
// that falls behind loses frames rather than seeing a half-written one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"jpeg-capture-streamer/internal/encode"
	"jpeg-capture-streamer/pkg/pixel"
)

var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// Engine accepts at most one asynchronous job. An accepted job calls done
// exactly once; a rejected one never does.
type Engine interface {
	Submit(src pixel.Frame, dst []byte, params encode.Params, done encode.Callback) error
}

// CacheInvalidator is implemented by engines that write through a different
// memory view than the consumer reads from.
type CacheInvalidator interface {
	Invalidate(buf []byte)
}

// Sink receives each claimed frame. data is only valid during the call.
type Sink interface {
	Send(data []byte) error
}

type Config struct {
	Quality    int
	Capacity   int
	TickSkip   int
	CountDrops bool
	Debug      bool
}

type Pipeline struct {
	cfg     Config
	frame   pixel.Frame
	engine  Engine
	sink    Sink
	divider *RateDivider

	bufs  [2][]byte
	sizes [2]atomic.Int64
	st    atomic.Uint32

	// ready holds at most one wake-up for Run; it is signalled whenever the
	// in-flight flag drops.
	ready chan struct{}
	stats counters
}

func New(cfg Config, frame pixel.Frame, engine Engine, sink Sink) (*Pipeline, error) {
	switch {
	case engine == nil || sink == nil:
		return nil, fmt.Errorf("%w: engine and sink are required", ErrInvalidConfig)
	case cfg.Quality < 1 || cfg.Quality > 100:
		return nil, fmt.Errorf("%w: quality %d", ErrInvalidConfig, cfg.Quality)
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidConfig, cfg.Capacity)
	case cfg.TickSkip < 0:
		return nil, fmt.Errorf("%w: tick skip %d", ErrInvalidConfig, cfg.TickSkip)
	}
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p := &Pipeline{
		cfg:     cfg,
		frame:   frame,
		engine:  engine,
		sink:    sink,
		divider: NewRateDivider(cfg.TickSkip),
		ready:   make(chan struct{}, 1),
	}
	p.stats.enabled = cfg.CountDrops
	for i := range p.bufs {
		p.bufs[i] = make([]byte, cfg.Capacity)
	}
	return p, nil
}

func (p *Pipeline) load() state {
	return state(p.st.Load())
}

func (p *Pipeline) cas(old, next state) bool {
	return p.st.CompareAndSwap(uint32(old), uint32(next))
}

func (p *Pipeline) notify() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Tick is the periodic capture hook. Only one goroutine may call it.
func (p *Pipeline) Tick() {
	p.stats.inc(&p.stats.ticks)
	if !p.divider.Tick() {
		p.stats.inc(&p.stats.skipped)
		return
	}
	p.schedule()
}

// schedule starts an encode into the buffer the consumer does not hold.
func (p *Pipeline) schedule() {
	var old, next state
	for {
		old = p.load()
		if old.inFlight() {
			p.stats.inc(&p.stats.busy)
			return
		}
		next = old | flagInFlight
		// Advance only once the consumer holds the current write buffer.
		// Otherwise re-target it and overwrite the unclaimed result.
		if old.read() == old.write() {
			next = next.with(bitWrite, old.write()^1)
		}
		if p.cas(old, next) {
			break
		}
	}

	target := next.write()
	buf := p.bufs[target]
	prevSize := p.sizes[target].Swap(0)
	if inv, ok := p.engine.(CacheInvalidator); ok {
		inv.Invalidate(buf)
	}

	params := encode.Params{Quality: p.cfg.Quality, Capacity: p.cfg.Capacity}
	if err := p.engine.Submit(p.frame, buf, params, p.complete); err != nil {
		// Nothing else can move the state while in flight, so restoring the
		// pre-tick word is exact.
		p.sizes[target].Store(prevSize)
		p.st.Store(uint32(old))
		p.stats.inc(&p.stats.rejected)
		p.notify()
		return
	}
	p.stats.inc(&p.stats.submitted)
}

// complete is the engine's completion callback.
func (p *Pipeline) complete(status encode.Status, size int) {
	ok := status == encode.StatusOK
	if ok {
		p.sizes[p.load().write()].Store(int64(size))
	}
	var old state
	for {
		old = p.load()
		next := old &^ flagInFlight
		if ok {
			next = next.with(bitWriteDone, old.write()) | flagPending
		}
		if p.cas(old, next) {
			break
		}
	}
	switch {
	case !ok:
		p.stats.inc(&p.stats.failed)
	case old.pending():
		p.stats.inc(&p.stats.overwritten)
	}
	p.notify()
}

// claim takes ownership of the last completed buffer. It fails while a job is
// in flight or when nothing has been published.
func (p *Pipeline) claim() (int, bool) {
	for {
		old := p.load()
		if old.inFlight() || !old.pending() {
			return 0, false
		}
		next := old.with(bitRead, old.writeDone()) &^ flagPending
		if p.cas(old, next) {
			return next.read(), true
		}
	}
}

// Run is the consumer loop. It only returns when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		idx, ok := p.claim()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.ready:
			}
			continue
		}
		p.forward(idx)
	}
}

func (p *Pipeline) forward(idx int) {
	size := int(p.sizes[idx].Load())
	if size == 0 {
		p.stats.inc(&p.stats.empty)
		p.logDebug("[PIPELINE] buffer %d empty, frame dropped", idx)
		return
	}
	if err := p.sink.Send(p.bufs[idx][:size]); err != nil {
		p.stats.inc(&p.stats.sinkErr)
		log.Printf("[PIPELINE] sink send failed: %v", err)
		return
	}
	p.stats.inc(&p.stats.claimed)
	p.logDebug("[PIPELINE] sent buffer %d, %d bytes", idx, size)
}

func (p *Pipeline) State() State {
	return p.load().snapshot()
}

// Size is the byte count recorded for buffer i by its last completed encode.
func (p *Pipeline) Size(i int) int {
	return int(p.sizes[i&1].Load())
}

func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

func (p *Pipeline) logDebug(format string, v ...any) {
	if p.cfg.Debug {
		log.Printf(format, v...)
	}
}
