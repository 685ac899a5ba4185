package pipeline

// RateDivider passes one tick out of every n+1. It starts primed so the first
// tick is eligible. Not safe for concurrent use: only the tick source calls it.
type RateDivider struct {
	n     int
	count int
}

func NewRateDivider(n int) *RateDivider {
	if n < 0 {
		n = 0
	}
	return &RateDivider{n: n, count: n}
}

// Tick reports whether this tick may start new work.
func (d *RateDivider) Tick() bool {
	if d.count < d.n {
		d.count++
		return false
	}
	d.count = 0
	return true
}
