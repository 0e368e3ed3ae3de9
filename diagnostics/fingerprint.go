package diagnostics

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint keys the Store's near-duplicate check: when the registry keeps
// serving the same block or error page, captures that differ only in a ray
// ID, timestamp or echoed query land within DedupeDistance bits and share one
// artifact instead of filling the store. Case is ignored.
func Fingerprint(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		hash := h.Sum64()
		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
