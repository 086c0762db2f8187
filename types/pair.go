package types

// Pair is a single query/document input to the scoring model.
type Pair struct {
	Query    string `json:"query"`
	Document string `json:"document"`
}

// TokenizedPair is a Pair after the tokenizer stage.
type TokenizedPair struct {
	Query          string `json:"-"`
	Document       string `json:"-"`
	QueryTokens    []int  `json:"query_tokens"`
	DocumentTokens []int  `json:"document_tokens"`
	// Length is the combined sequence length after truncation.
	Length int `json:"length"`
}

// TokenizedBatch is the model-stage input. Pairs keep the batch's
// admission order so scores can be mapped back onto work units.
type TokenizedBatch struct {
	BatchID      string          `json:"batch_id"`
	Pairs        []TokenizedPair `json:"pairs"`
	MaxLength    int             `json:"max_length"`
	TotalTokens  int             `json:"total_tokens"`
	PaddingRatio float64         `json:"padding_ratio"`
}

// Len returns the number of pairs in the batch.
func (b *TokenizedBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Pairs)
}

// PaddingRatio returns padded tokens / total tokens processed when every
// sequence is padded to the longest member.
func PaddingRatio(lengths []int) (maxLen int, total int, ratio float64) {
	for _, l := range lengths {
		total += l
		if l > maxLen {
			maxLen = l
		}
	}
	padded := maxLen * len(lengths)
	if padded == 0 {
		return maxLen, total, 0
	}
	return maxLen, total, float64(padded-total) / float64(padded)
}

// ModelInfo describes the model behind a backend.
type ModelInfo struct {
	Name          string `json:"name"`
	Backend       string `json:"backend"`
	Device        string `json:"device"`
	MaxSequence   int    `json:"max_sequence"`
	MaxBatchPairs int    `json:"max_batch_pairs,omitempty"`
}
