package emotion

import (
	"fmt"
	"math"
	"strings"
)

// Score is one raw label/confidence pair from a classifier
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Policy decides how raw scores mapping to the same application label combine
type Policy string

const (
	// PolicyMax keeps the highest score seen per application label
	PolicyMax Policy = "max"
	// PolicySum adds scores mapping to the same application label
	PolicySum Policy = "sum"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case PolicyMax, "max-take", "":
		return PolicyMax, nil
	case PolicySum, "sum-accumulate":
		return PolicySum, nil
	}
	return "", fmt.Errorf("unknown accumulation policy %q", s)
}

// Normalizer maps raw classifier output onto Labels
type Normalizer struct {
	policy  Policy
	mapping map[string]Label
}

// NewNormalizer creates a normalizer. A nil mapping uses DefaultMapping.
func NewNormalizer(policy Policy, mapping map[string]Label) *Normalizer {
	if policy != PolicySum {
		policy = PolicyMax
	}
	m := make(map[string]Label, len(DefaultMapping))
	if mapping == nil {
		mapping = DefaultMapping
	}
	for raw, l := range mapping {
		m[strings.ToLower(raw)] = l
	}
	return &Normalizer{policy: policy, mapping: m}
}

// Policy returns the configured accumulation policy
func (n *Normalizer) Policy() Policy {
	return n.policy
}

// Mapping returns a copy of the raw label table
func (n *Normalizer) Mapping() map[string]Label {
	out := make(map[string]Label, len(n.mapping))
	for k, v := range n.mapping {
		out[k] = v
	}
	return out
}

// Map resolves a raw label, falling back to Neutral
func (n *Normalizer) Map(raw string) Label {
	if l, ok := n.mapping[strings.ToLower(strings.TrimSpace(raw))]; ok && l.index() >= 0 {
		return l
	}
	return Neutral
}

// Normalize accumulates raw scores and renormalizes them into a distribution.
// It never fails: empty or unusable input yields the degenerate vector.
func (n *Normalizer) Normalize(raw []Score) Vector {
	var v Vector
	for _, s := range raw {
		if !usable(s.Score) {
			continue
		}
		i := n.Map(s.Label).index()
		switch n.policy {
		case PolicySum:
			v.scores[i] += s.Score
		default:
			v.scores[i] = math.Max(v.scores[i], s.Score)
		}
	}
	return v.normalized()
}

// Confidence boosts the top score by 20% and caps it at 1.0
func Confidence(v Vector) float64 {
	return math.Min(v.Max()*1.2, 1.0)
}
