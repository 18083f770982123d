// Package compose builds a bounded-size prompt from retrieved chunks and
// recent chat history.
package compose

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/retrieval"
	"github.com/docchat/docchat/internal/store"
)

const systemPreamble = `You are a helpful assistant answering questions about the user's uploaded documents.
Use the provided document excerpts when they are relevant. If the excerpts do not contain the answer, say so instead of guessing.`

// Measure returns the length of a piece of text in budget units. The
// default counts runes; a token-based measure can be plugged in when a
// provider reports token limits.
type Measure func(string) int

// Composed is the assembled prompt plus the chunk ids that made it in,
// recorded as the turn's citations.
type Composed struct {
	Messages  []llm.Message
	Citations []string
}

// Composer merges retrieved chunks and chat history into a prompt that
// never exceeds the budget.
type Composer struct {
	budget  int
	measure Measure
}

// New creates a Composer with the given budget in measure units.
func New(budget int, measure Measure) *Composer {
	if measure == nil {
		measure = utf8.RuneCountInString
	}
	return &Composer{budget: budget, measure: measure}
}

// Compose assembles the prompt. Retrieved chunks come first (in the given
// descending-score order), then a window of prior turns, then the current
// query. When the total is over budget, the oldest history is dropped
// first, then the lowest-scored chunks. The current query is never
// dropped; a query that alone exceeds the budget is an error rather than a
// silent truncation.
func (c *Composer) Compose(query string, history []store.Message, retrieved []retrieval.Result) (*Composed, error) {
	queryCost := c.measure(query)
	baseCost := c.measure(systemPreamble)
	if queryCost+baseCost > c.budget {
		if queryCost > c.budget {
			return nil, fmt.Errorf("query length %d exceeds context budget %d", queryCost, c.budget)
		}
		// Budget too tight for the preamble: send the bare query.
		return &Composed{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: query}},
		}, nil
	}

	chunks := append([]retrieval.Result(nil), retrieved...)
	hist := append([]store.Message(nil), history...)

	for {
		total := baseCost + queryCost + c.contextCost(chunks) + c.historyCost(hist)
		if total <= c.budget {
			break
		}
		// Drop the oldest history first, then the lowest-scored chunk.
		if len(hist) > 0 {
			hist = hist[1:]
			continue
		}
		if len(chunks) > 0 {
			chunks = chunks[:len(chunks)-1]
			continue
		}
		break
	}

	system := systemPreamble
	if len(chunks) > 0 {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\nDocument excerpts:\n")
		for i, ch := range chunks {
			sb.WriteString(fmt.Sprintf("\n[%d] %s\n", i+1, ch.Text))
		}
		system = sb.String()
	}

	messages := make([]llm.Message, 0, len(hist)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range hist {
		messages = append(messages, llm.Message{Role: roleFor(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	citations := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		citations = append(citations, ch.ChunkID)
	}

	return &Composed{Messages: messages, Citations: citations}, nil
}

// contextCost measures the chunk block including its framing text.
func (c *Composer) contextCost(chunks []retrieval.Result) int {
	if len(chunks) == 0 {
		return 0
	}
	cost := c.measure("\n\nDocument excerpts:\n")
	for i, ch := range chunks {
		cost += c.measure(fmt.Sprintf("\n[%d] %s\n", i+1, ch.Text))
	}
	return cost
}

func (c *Composer) historyCost(hist []store.Message) int {
	cost := 0
	for _, m := range hist {
		cost += c.measure(m.Content)
	}
	return cost
}

func roleFor(r store.Role) llm.Role {
	if r == store.RoleAssistant {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}
