package emotion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Tolerance is the allowed deviation of a Vector sum from 1.0
const Tolerance = 1e-6

// Vector is a probability distribution over Labels. The zero value is not a
// valid distribution; use Degenerate or a Normalizer to build one.
type Vector struct {
	scores [numLabels]float64
}

// Degenerate returns the fallback {neutral: 1.0} distribution
func Degenerate() Vector {
	var v Vector
	v.scores[Neutral.index()] = 1.0
	return v
}

// FromMap builds a Vector from label scores and renormalizes it. Unknown
// labels and non-finite or negative scores are ignored. A zero total yields
// the degenerate vector.
func FromMap(m map[string]float64) Vector {
	var v Vector
	for name, score := range m {
		l, ok := ParseLabel(name)
		if !ok || !usable(score) {
			continue
		}
		v.scores[l.index()] += score
	}
	return v.normalized()
}

// Get returns the score for a label, zero for unknown labels
func (v Vector) Get(l Label) float64 {
	i := l.index()
	if i < 0 {
		return 0
	}
	return v.scores[i]
}

// Sum returns the total of all scores
func (v Vector) Sum() float64 {
	total := 0.0
	for _, s := range v.scores {
		total += s
	}
	return total
}

// Max returns the largest score
func (v Vector) Max() float64 {
	m := v.scores[0]
	for _, s := range v.scores[1:] {
		if s > m {
			m = s
		}
	}
	return m
}

// Dominant returns the label with the highest score; ties resolve to the
// earlier label in Labels.
func (v Vector) Dominant() Label {
	best := 0
	for i := 1; i < numLabels; i++ {
		if v.scores[i] > v.scores[best] {
			best = i
		}
	}
	return Labels[best]
}

// IsDegenerate reports whether v is the {neutral: 1.0} fallback
func (v Vector) IsDegenerate() bool {
	return v == Degenerate()
}

// Map returns the scores keyed by label name
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, numLabels)
	for i, l := range Labels {
		m[string(l)] = v.scores[i]
	}
	return m
}

// Mean averages vectors component-wise. An empty input yields the degenerate vector.
func Mean(vs []Vector) Vector {
	if len(vs) == 0 {
		return Degenerate()
	}
	var out Vector
	for _, v := range vs {
		for i, s := range v.scores {
			out.scores[i] += s
		}
	}
	n := float64(len(vs))
	for i := range out.scores {
		out.scores[i] /= n
	}
	return out
}

// MarshalJSON emits the scores as an object in label order
func (v Vector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range Labels {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:", string(l))
		buf.WriteString(strconv.FormatFloat(v.scores[i], 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of label scores
func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*v = FromMap(m)
	return nil
}

func (v Vector) normalized() Vector {
	total := v.Sum()
	if total <= 0 || !usable(total) {
		return Degenerate()
	}
	for i := range v.scores {
		v.scores[i] /= total
	}
	return v
}

func usable(f float64) bool {
	return f >= 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
