package pipeline

// state packs every field shared between the tick, completion and consumer
// contexts into one word so each transition is a single compare-and-swap.
type state uint32

const (
	flagInFlight state = 1 << iota
	flagPending
	bitWrite
	bitWriteDone
	bitRead
)

func (s state) inFlight() bool { return s&flagInFlight != 0 }
func (s state) pending() bool  { return s&flagPending != 0 }
func (s state) write() int     { return s.bit(bitWrite) }
func (s state) writeDone() int { return s.bit(bitWriteDone) }
func (s state) read() int      { return s.bit(bitRead) }

func (s state) bit(b state) int {
	if s&b != 0 {
		return 1
	}
	return 0
}

func (s state) with(b state, idx int) state {
	if idx&1 != 0 {
		return s | b
	}
	return s &^ b
}

// State is a consistent snapshot of the scheduler's shared fields.
type State struct {
	WriteIndex     int
	WriteDoneIndex int
	ReadIndex      int
	InFlight       bool
	ResultPending  bool
}

func (s state) snapshot() State {
	return State{
		WriteIndex:     s.write(),
		WriteDoneIndex: s.writeDone(),
		ReadIndex:      s.read(),
		InFlight:       s.inFlight(),
		ResultPending:  s.pending(),
	}
}
