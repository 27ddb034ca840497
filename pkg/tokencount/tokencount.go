// Package tokencount estimates per-turn token usage with tiktoken. Counts are
// bookkeeping for history views, not billing figures.
package tokencount

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

func NewCounter() *Counter { return &Counter{} }

func (c *Counter) init() {
	c.codec, c.err = tokenizer.Get(tokenizer.Cl100kBase)
}

// Count returns the token count for text, or an error if the codec could not
// be loaded.
func (c *Counter) Count(text string) (int, error) {
	if c == nil {
		return 0, errors.New("token counter: nil counter")
	}
	c.once.Do(c.init)
	if c.err != nil {
		return 0, errors.Wrap(c.err, "token counter: load codec")
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "token counter: encode")
	}
	return len(ids), nil
}

// CountTurn sums the user message and agent response, swallowing codec errors
// into a zero count since the figure is advisory.
func (c *Counter) CountTurn(userMessage, agentResponse string) int {
	u, err := c.Count(userMessage)
	if err != nil {
		return 0
	}
	a, err := c.Count(agentResponse)
	if err != nil {
		return 0
	}
	return u + a
}
