// Package simd locates CSV separators a machine word at a time.
//
// The word path (SWAR, SIMD Within A Register) loads 8 bytes per step and
// flags every byte equal to the separator with exact zero-byte detection, so
// a row is split in one pass without per-field IndexByte calls. It is picked
// at init time on CPUs with fast trailing-zero counts; everything else uses
// the byte loop. Both paths return identical results.
package simd

import (
	"encoding/binary"
	"math/bits"
)

const (
	lows  = 0x0101010101010101
	low7s = 0x7f7f7f7f7f7f7f7f
)

// separatorsImpl and countImpl are set in init() based on CPU flags.
var (
	separatorsImpl = separatorsGeneric
	countImpl      = countGeneric
)

// Separators appends the offset of every sep byte in line to dst[:0] and
// returns it. Reuse dst across rows to avoid allocations.
func Separators(line []byte, sep byte, dst []int) []int {
	return separatorsImpl(line, sep, dst[:0])
}

// ScanSeparators counts the occurrences of sep in data.
func ScanSeparators(data []byte, sep byte) uint64 {
	return countImpl(data, sep)
}

// Field returns field i of line given the separator offsets produced by
// Separators. ok is false when the line has fewer than i+1 fields.
func Field(line []byte, seps []int, i int) (field []byte, ok bool) {
	if i < 0 || i > len(seps) {
		return nil, false
	}
	start := 0
	if i > 0 {
		start = seps[i-1] + 1
	}
	end := len(line)
	if i < len(seps) {
		end = seps[i]
	}
	return line[start:end], true
}

// matchWord returns a word with the high bit set in every byte of w that
// equals the broadcast separator, and no other bits set.
func matchWord(w, broadcast uint64) uint64 {
	x := w ^ broadcast
	y := (x & low7s) + low7s
	return ^(y | x | low7s)
}

func separatorsSWAR(line []byte, sep byte, dst []int) []int {
	broadcast := lows * uint64(sep)
	i := 0
	for ; i+8 <= len(line); i += 8 {
		m := matchWord(binary.LittleEndian.Uint64(line[i:]), broadcast)
		for m != 0 {
			dst = append(dst, i+bits.TrailingZeros64(m)>>3)
			m &= m - 1
		}
	}
	for ; i < len(line); i++ {
		if line[i] == sep {
			dst = append(dst, i)
		}
	}
	return dst
}

func separatorsGeneric(line []byte, sep byte, dst []int) []int {
	for i, b := range line {
		if b == sep {
			dst = append(dst, i)
		}
	}
	return dst
}

func countSWAR(data []byte, sep byte) uint64 {
	broadcast := lows * uint64(sep)
	var count uint64
	i := 0
	for ; i+8 <= len(data); i += 8 {
		count += uint64(bits.OnesCount64(matchWord(binary.LittleEndian.Uint64(data[i:]), broadcast)))
	}
	for ; i < len(data); i++ {
		if data[i] == sep {
			count++
		}
	}
	return count
}

func countGeneric(data []byte, sep byte) uint64 {
	var count uint64
	for _, b := range data {
		if b == sep {
			count++
		}
	}
	return count
}
