package tokenizer

import (
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EstimatorTokenizer is a character-based tokenizer approximation.
// Words are cut into pieces of charsPerPiece runes; CJK runes are one
// piece each. Piece ids are stable hashes, so equal words encode equally.
type EstimatorTokenizer struct {
	model     string
	maxTokens int

	charsPerPiece int
	vocabSize     int
}

// NewEstimatorTokenizer creates a generic estimator.
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &EstimatorTokenizer{
		model:         model,
		maxTokens:     maxTokens,
		charsPerPiece: 4,
		vocabSize:     30522,
	}
}

// WithCharsPerPiece overrides the default piece width for non-CJK text.
func (e *EstimatorTokenizer) WithCharsPerPiece(n int) *EstimatorTokenizer {
	if n > 0 {
		e.charsPerPiece = n
	}
	return e
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	n := 0
	e.pieces(text, func(string) { n++ })
	return n, nil
}

func (e *EstimatorTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, utf8.RuneCountInString(text)/e.charsPerPiece+1)
	h := fnv.New32a()
	e.pieces(text, func(piece string) {
		h.Reset()
		_, _ = h.Write([]byte(piece))
		// 0 is reserved for padding.
		ids = append(ids, int(h.Sum32()%uint32(e.vocabSize-1))+1)
	})
	return ids, nil
}

func (e *EstimatorTokenizer) MaxTokens() int {
	return e.maxTokens
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// pieces walks text and yields lower-cased pieces.
func (e *EstimatorTokenizer) pieces(text string, yield func(string)) {
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) {
		word = strings.ToLower(word)
		var b strings.Builder
		width := 0
		flush := func() {
			if width > 0 {
				yield(b.String())
				b.Reset()
				width = 0
			}
		}
		for _, r := range word {
			if isCJK(r) {
				flush()
				yield(string(r))
				continue
			}
			b.WriteRune(r)
			width++
			if width == e.charsPerPiece {
				flush()
			}
		}
		flush()
	}
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana, Katakana
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul Syllables
}
