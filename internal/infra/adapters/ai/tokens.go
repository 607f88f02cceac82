package ai

import (
	"github.com/pkoukk/tiktoken-go"
)

// NewTokenEstimator returns a prompt-token counter backed by the cl100k
// encoding. Falls back to a bytes/4 heuristic if the encoding cannot be
// loaded, which overestimates short prompts slightly and is fine for a
// guard rail.
func NewTokenEstimator() func(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil || enc == nil {
		return func(text string) int { return len(text) / 4 }
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}
