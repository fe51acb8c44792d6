// Package alignment maps a patient frame sequence onto a reference
// performance's frame indices. The default constant-speed-ratio mapping fits
// single-repetition, constant-tempo sequences; the elastic mode (dynamic time
// warping over per-frame joint-angle vectors) handles pauses and uneven
// tempo at superlinear cost and is opt-in, never auto-selected.
package alignment

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrEmptySequence is returned when either sequence has no frames. A
// zero-length input is a definite failure, never a silently-empty map.
var ErrEmptySequence = errors.New("alignment: zero-length frame sequence")

// Pair maps one patient frame index onto a reference frame index.
type Pair struct {
	Patient    int     `json:"patient"`
	Reference  int     `json:"reference"`
	Confidence float64 `json:"confidence"`
}

// Map is a total, monotonic mapping: every patient index appears exactly
// once, in order, and reference indices never decrease.
type Map struct {
	Pairs []Pair `json:"pairs"`
}

// Reference returns the reference index for a patient index, or -1 when the
// index is outside the map.
func (m *Map) Reference(patientIndex int) int {
	if patientIndex < 0 || patientIndex >= len(m.Pairs) {
		return -1
	}
	return m.Pairs[patientIndex].Reference
}

// Monotonic reports whether patient indices are dense from zero and
// reference indices never decrease.
func (m *Map) Monotonic() bool {
	lastRef := -1
	for i, p := range m.Pairs {
		if p.Patient != i || p.Reference < lastRef {
			return false
		}
		lastRef = p.Reference
	}
	return true
}

// AlignConstant builds the constant-speed-ratio mapping
// reference = floor(patient * referenceCount / patientCount), clamped, with
// confidence 1.0 on every pair.
func AlignConstant(patientCount, referenceCount int) (*Map, error) {
	if patientCount <= 0 || referenceCount <= 0 {
		return nil, fmt.Errorf("%w: patient=%d reference=%d", ErrEmptySequence, patientCount, referenceCount)
	}

	pairs := make([]Pair, patientCount)
	for i := 0; i < patientCount; i++ {
		ref := i * referenceCount / patientCount
		if ref >= referenceCount {
			ref = referenceCount - 1
		}
		pairs[i] = Pair{Patient: i, Reference: ref, Confidence: 1.0}
	}
	return &Map{Pairs: pairs}, nil
}

// AlignElastic warps the patient sequence onto the reference by dynamic time
// warping over per-frame joint-angle vectors. window is the Sakoe-Chiba band
// half-width in frames around the constant-ratio diagonal; window <= 0 means
// unconstrained. Cost is O(N·M) in time and memory.
func AlignElastic(patient, reference [][]float64, window int) (*Map, error) {
	n, m := len(patient), len(reference)
	if n == 0 || m == 0 {
		return nil, fmt.Errorf("%w: patient=%d reference=%d", ErrEmptySequence, n, m)
	}
	for i, v := range patient {
		if len(v) == 0 {
			return nil, fmt.Errorf("alignment: empty angle vector at patient frame %d", i)
		}
	}

	inf := math.Inf(1)
	cost := mat.NewDense(n, m, nil)
	acc := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			acc.Set(i, j, inf)
		}
	}

	inBand := func(i, j int) bool {
		if window <= 0 {
			return true
		}
		diag := i * m / n
		return j >= diag-window && j <= diag+window
	}

	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if !inBand(i, j) {
				cost.Set(i, j, inf)
				continue
			}
			cost.Set(i, j, angleDistance(patient[i], reference[j]))
		}
	}

	acc.Set(0, 0, cost.At(0, 0))
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if i == 0 && j == 0 {
				continue
			}
			c := cost.At(i, j)
			if math.IsInf(c, 1) {
				continue
			}
			best := inf
			if i > 0 && acc.At(i-1, j) < best {
				best = acc.At(i-1, j)
			}
			if j > 0 && acc.At(i, j-1) < best {
				best = acc.At(i, j-1)
			}
			if i > 0 && j > 0 && acc.At(i-1, j-1) < best {
				best = acc.At(i-1, j-1)
			}
			if !math.IsInf(best, 1) {
				acc.Set(i, j, c+best)
			}
		}
	}

	if math.IsInf(acc.At(n-1, m-1), 1) {
		// Band too narrow to connect the corners: widen until it does. The
		// constant-ratio diagonal always fits, so this terminates.
		return AlignElastic(patient, reference, window*2+1)
	}

	// Backtrack the optimal path, then collapse it to one reference index
	// per patient frame (first visit) so the map stays total and dense.
	refFor := make([]int, n)
	conf := make([]float64, n)
	for i := range refFor {
		refFor[i] = -1
	}
	i, j := n-1, m-1
	for {
		if refFor[i] == -1 || j < refFor[i] {
			refFor[i] = j
			conf[i] = 1 / (1 + cost.At(i, j))
		}
		if i == 0 && j == 0 {
			break
		}
		bi, bj := i, j
		best := inf
		if i > 0 && j > 0 && acc.At(i-1, j-1) < best {
			best, bi, bj = acc.At(i-1, j-1), i-1, j-1
		}
		if i > 0 && acc.At(i-1, j) < best {
			best, bi, bj = acc.At(i-1, j), i-1, j
		}
		if j > 0 && acc.At(i, j-1) < best {
			bi, bj = i, j-1
		}
		i, j = bi, bj
	}

	pairs := make([]Pair, n)
	for p := 0; p < n; p++ {
		pairs[p] = Pair{Patient: p, Reference: refFor[p], Confidence: conf[p]}
	}
	return &Map{Pairs: pairs}, nil
}

// angleDistance is the Euclidean distance between two angle vectors.
// Mismatched lengths compare the shared prefix; missing joints contribute
// nothing rather than poisoning the cost.
func angleDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for k := 0; k < n; k++ {
		d := a[k] - b[k]
		sum += d * d
	}
	return math.Sqrt(sum)
}
