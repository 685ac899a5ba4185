package pixel

import (
	"fmt"
	"strings"
)

// SwapMode describes how bytes are swapped inside each 8-byte group of a
// frame buffer. The bits combine: 8-bit units within 16, 16-bit units within
// 32 and 32-bit units within 64.
type SwapMode uint8

const (
	SwapNone SwapMode = 0
	Swap8    SwapMode = 1 << 0
	Swap16   SwapMode = 1 << 1
	Swap32   SwapMode = 1 << 2

	Swap16_8    = Swap16 | Swap8
	Swap32_8    = Swap32 | Swap8
	Swap32_16   = Swap32 | Swap16
	Swap32_16_8 = Swap32 | Swap16 | Swap8
)

var swapNames = map[string]SwapMode{
	"none":    SwapNone,
	"8":       Swap8,
	"16":      Swap16,
	"16-8":    Swap16_8,
	"32":      Swap32,
	"32-8":    Swap32_8,
	"32-16":   Swap32_16,
	"32-16-8": Swap32_16_8,
}

// ParseSwapMode accepts "none" or the swapped unit sizes joined by dashes,
// largest first ("32-16-8"). Underscores are accepted in place of dashes, but
// YAML reads an unquoted 32_16_8 as a number, so configs use dashes.
func ParseSwapMode(s string) (SwapMode, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	m, ok := swapNames[key]
	if !ok {
		return SwapNone, fmt.Errorf("unknown swap mode %q", s)
	}
	return m, nil
}

func (m SwapMode) String() string {
	for name, v := range swapNames {
		if v == m {
			return name
		}
	}
	return fmt.Sprintf("SwapMode(%d)", uint8(m))
}

// Index maps a logical byte offset to its physical offset. The mapping is its
// own inverse, so the same call serves readers and writers.
func (m SwapMode) Index(i int) int {
	return i ^ int(m&Swap32_16_8)
}
