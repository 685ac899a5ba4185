package pipeline

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jpeg-capture-streamer/internal/encode"
	"jpeg-capture-streamer/pkg/pixel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowEngine fills the whole target buffer on its own goroutine, yielding
// while it writes so that overlapping access to a buffer shows up as a torn
// frame. Every job stamps a sequence number in the first four bytes and fills
// the rest with its low byte. Every seventh job fails half way through.
type slowEngine struct {
	busy   atomic.Bool
	seq    atomic.Uint32
	failed atomic.Int64
}

func (e *slowEngine) Submit(_ pixel.Frame, dst []byte, p encode.Params, done encode.Callback) error {
	if !e.busy.CompareAndSwap(false, true) {
		return encode.ErrBusy
	}
	n := e.seq.Add(1)
	go func() {
		buf := dst[:p.Capacity]
		binary.BigEndian.PutUint32(buf, n)
		fail := n%7 == 0
		for i := 4; i < len(buf); i++ {
			if fail && i == len(buf)/2 {
				break
			}
			buf[i] = byte(n)
			if i%8 == 0 {
				runtime.Gosched()
			}
		}
		e.busy.Store(false)
		if fail {
			e.failed.Add(1)
			done(encode.StatusError, 0)
			return
		}
		done(encode.StatusOK, len(buf))
	}()
	return nil
}

// verifyingSink checks each frame is whole before and after yielding, and
// that sequence numbers only move forward.
type verifyingSink struct {
	t *testing.T

	mu      sync.Mutex
	lastSeq uint32
	frames  int
}

func (s *verifyingSink) check(data []byte) (uint32, bool) {
	seq := binary.BigEndian.Uint32(data)
	for _, b := range data[4:] {
		if b != byte(seq) {
			return seq, false
		}
	}
	return seq, true
}

func (s *verifyingSink) Send(data []byte) error {
	seq, whole := s.check(data)
	if !whole {
		s.t.Errorf("frame %d torn on claim", seq)
	}
	runtime.Gosched()
	if again, whole := s.check(data); !whole || again != seq {
		s.t.Errorf("frame %d changed while the consumer held it", seq)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		s.t.Errorf("frame %d claimed after frame %d", seq, s.lastSeq)
	}
	s.lastSeq = seq
	s.frames++
	return nil
}

func TestConcurrentTickEngineAndConsumer(t *testing.T) {
	engine := &slowEngine{}
	sink := &verifyingSink{t: t}
	p, err := New(Config{Quality: 50, Capacity: 256, CountDrops: true}, testFrame(t), engine, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	const ticks = 20000
	for i := 0; i < ticks; i++ {
		p.Tick()
		if i%4 == 0 {
			runtime.Gosched()
		}
	}
	require.Eventually(t, func() bool {
		st := p.State()
		return !st.InFlight && !st.ResultPending
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	stats := p.Stats()
	sink.mu.Lock()
	frames := sink.frames
	sink.mu.Unlock()

	assert.Equal(t, uint64(ticks), stats.Ticks)
	assert.Equal(t, uint64(engine.seq.Load()), stats.Submitted)
	assert.Equal(t, uint64(engine.failed.Load()), stats.Failed)
	assert.Equal(t, uint64(frames), stats.Claimed)
	assert.Positive(t, frames)
	assert.Equal(t, stats.Ticks, stats.Submitted+stats.Busy+stats.Rejected)
}
