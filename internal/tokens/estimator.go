// Package tokens provides token estimation utilities using tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// DefaultEncoding is cl100k_base, a reasonable proxy for both GPT and
// Claude tokenizers.
const DefaultEncoding = "cl100k_base"

// Estimator provides token estimation using tiktoken
type Estimator struct {
	encoding *tiktoken.Tiktoken
}

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the global token estimator (singleton)
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			L_warn("tokens: failed to create estimator, using fallback", "error", err)
			globalEstimator = &Estimator{}
			return
		}
		globalEstimator = &Estimator{encoding: enc}
	})
	return globalEstimator
}

// Count returns the token count for a string.
// Falls back to chars/4 if tiktoken is unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// perTurnOverhead approximates role and structure tokens per message
const perTurnOverhead = 4

// CountTurns estimates the token footprint of an outbound conversation
func (e *Estimator) CountTurns(turns []types.Turn) int {
	total := 0
	for _, t := range turns {
		total += e.Count(t.Content) + perTurnOverhead
		total += e.Count(t.ToolResult)
		total += len(t.ToolInput) / 4
	}
	return total
}

// Estimate is a convenience function using the global estimator
func Estimate(text string) int {
	return Get().Count(text)
}
