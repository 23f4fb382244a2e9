// Package composer builds grounded question-answering prompts from retrieved
// citations and prior chat turns.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/retrieval"
)

const defaultMaxContextTokens = 4000

const instructions = `You answer questions about the user's documents. Use only the
numbered passages below. Cite passages by their number, like [2]. If the
passages do not contain the answer, say so.`

// Composer assembles the prompt sent to the text generator. Citations and
// history together stay within MaxContextTokens.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the full prompt for question. Citations keep their
// retrieval order; those that no longer fit the budget are dropped. History
// gets whatever budget the citations leave, newest turns first, and is
// rendered oldest first. The question itself is always included.
func (c *Composer) Compose(question string, citations []retrieval.Citation, history []engine.Message) string {
	remaining := c.MaxContextTokens - EstimateTokens(instructions) - EstimateTokens(question)

	var passages []string
	for i, cit := range citations {
		entry := formatCitation(i+1, cit)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		passages = append(passages, entry)
		remaining -= tokens
	}

	var turns []string
	for i := len(history) - 1; i >= 0; i-- {
		entry := formatTurn(history[i])
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			break
		}
		turns = append(turns, entry)
		remaining -= tokens
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	if len(passages) > 0 {
		sb.WriteString("\n\n[Passages]\n")
		for _, p := range passages {
			sb.WriteString(p)
		}
	}
	if len(turns) > 0 {
		sb.WriteString("\n[Conversation so far]\n")
		for i := len(turns) - 1; i >= 0; i-- {
			sb.WriteString(turns[i])
		}
	}
	sb.WriteString("\n[Question]\n")
	sb.WriteString(question)
	return sb.String()
}

func formatCitation(n int, c retrieval.Citation) string {
	return fmt.Sprintf("[%d] (%s, page %d)\n%s\n\n", n, c.DocumentName, c.PageNum, c.Text)
}

func formatTurn(m engine.Message) string {
	return fmt.Sprintf("%s: %s\n", m.Role, m.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
