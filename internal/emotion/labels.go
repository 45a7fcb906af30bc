package emotion

import "strings"

// Label is one of the fixed application emotion labels
type Label string

const (
	Joy      Label = "joy"
	Surprise Label = "surprise"
	Anger    Label = "anger"
	Sadness  Label = "sadness"
	Neutral  Label = "neutral"
)

// Labels is the ordered application label set. Vector indexes follow this order.
var Labels = []Label{Joy, Surprise, Anger, Sadness, Neutral}

const numLabels = 5

// DefaultMapping maps raw classifier labels to application labels.
// Raw labels are matched lower-cased; anything missing maps to Neutral.
var DefaultMapping = map[string]Label{
	"happy":    Joy,
	"surprise": Surprise,
	"angry":    Anger,
	"sad":      Sadness,
	"fear":     Surprise,
	"disgust":  Anger,
	"neutral":  Neutral,
}

// ParseLabel resolves an application label name
func ParseLabel(s string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	return l, l.index() >= 0
}

func (l Label) index() int {
	switch l {
	case Joy:
		return 0
	case Surprise:
		return 1
	case Anger:
		return 2
	case Sadness:
		return 3
	case Neutral:
		return 4
	}
	return -1
}

// String implements fmt.Stringer
func (l Label) String() string {
	return string(l)
}
