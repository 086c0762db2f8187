package batch

import (
	"unicode/utf8"

	"github.com/BaSui01/scoreflow/tokenizer"
	"github.com/BaSui01/scoreflow/types"
)

// Bucket maps an estimated length onto a static bucket index: the first
// bound that is >= length. Lengths above the largest bound fall into the
// last bucket. Bounds must be ascending.
func Bucket(length int, bounds []int) int {
	if len(bounds) == 0 {
		return 0
	}
	for i, b := range bounds {
		if length <= b {
			return i
		}
	}
	return len(bounds) - 1
}

// LengthFunc estimates the sequence length of a pair.
type LengthFunc func(p types.Pair) int

// RuneLength uses the character count of query and document as a fast proxy.
func RuneLength(p types.Pair) int {
	return utf8.RuneCountInString(p.Query) + utf8.RuneCountInString(p.Document)
}

// TokenLength estimates length with tok. Counting errors fall back to
// RuneLength.
func TokenLength(tok tokenizer.Tokenizer) LengthFunc {
	return func(p types.Pair) int {
		q, err := tok.CountTokens(p.Query)
		if err != nil {
			return RuneLength(p)
		}
		d, err := tok.CountTokens(p.Document)
		if err != nil {
			return RuneLength(p)
		}
		return q + d
	}
}

// Length metrics accepted by NewLengthFunc.
const (
	LengthMetricChars  = "chars"
	LengthMetricTokens = "tokens"
)

// NewLengthFunc returns the estimator for metric. Unknown metrics use
// character length.
func NewLengthFunc(metric string, maxTokens int) LengthFunc {
	if metric == LengthMetricTokens {
		return TokenLength(tokenizer.NewEstimatorTokenizer("length-estimator", maxTokens))
	}
	return RuneLength
}
