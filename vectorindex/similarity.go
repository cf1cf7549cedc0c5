package vectorindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Cosine returns the cosine similarity of two equal-length vectors, or 0 when
// either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// scoreTolerance absorbs rounding between vectors that point the same way.
const scoreTolerance = 1e-9

// rank scores entries against query and keeps the best k. Entries must be in
// insertion order so the stable sort breaks ties by it.
func rank(entries []Entry, query []float32, k int) []Hit {
	if k <= 0 || len(entries) == 0 {
		return nil
	}
	hits := make([]Hit, len(entries))
	for i, entry := range entries {
		hits[i] = Hit{Entry: entry, Score: Cosine(query, entry.Vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score-hits[j].Score > scoreTolerance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
