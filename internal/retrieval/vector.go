package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Embeddings are stored as packed little-endian float32s.

func encodeFloat32s(v []float32) []byte {
	b := make([]byte, 0, 4*len(v))
	for _, f := range v {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto reuses buf when it is large enough, so a scan over many
// rows allocates once.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a whole number of float32s", len(b))
	}
	buf = slices.Grow(buf[:0], len(b)/4)[:len(b)/4]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sq))
}

// cosine returns the cosine similarity of q and v given q's precomputed
// norm. Vectors of different width, or a zero v, score 0.
func cosine(q, v []float32, qNorm float32) float32 {
	if len(q) != len(v) {
		return 0
	}
	var dot, vv float64
	for i, x := range q {
		y := float64(v[i])
		dot += float64(x) * y
		vv += y * y
	}
	if vv == 0 {
		return 0
	}
	return float32(dot / (float64(qNorm) * math.Sqrt(vv)))
}

// pageScore is a candidate page during a similarity scan. Text is fetched
// only for the winners.
type pageScore struct {
	Page  int
	Score float32
}

// outranks orders by score, then by lower page number so results are
// deterministic on ties.
func (a pageScore) outranks(b pageScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Page < b.Page
}

// ranking keeps the k best page scores seen, best first.
type ranking struct {
	k    int
	best []pageScore
}

func newRanking(k int) *ranking {
	return &ranking{k: k, best: make([]pageScore, 0, k+1)}
}

func (r *ranking) offer(ps pageScore) {
	if r.k <= 0 {
		return
	}
	i := slices.IndexFunc(r.best, ps.outranks)
	if i < 0 {
		if len(r.best) == r.k {
			return
		}
		i = len(r.best)
	}
	r.best = slices.Insert(r.best, i, ps)
	if len(r.best) > r.k {
		r.best = r.best[:r.k]
	}
}

func (r *ranking) ranked() []pageScore {
	return r.best
}
