package llm

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the assistant persona used when the configuration
// does not override it.
const DefaultSystemPrompt = "You are a helpful AI assistant specialized in Ethereum blockchain operations. " +
	"You help users interact with the Ethereum blockchain using natural language: checking balances, " +
	"sending transactions, swapping tokens on Uniswap V2 and inspecting smart contracts. " +
	"You also have access to documentation about blockchain protocols and smart contracts. " +
	"When users ask you to perform blockchain operations, call exactly one appropriate tool at a time. " +
	"When users ask how a protocol or contract works, answer from the documentation provided or call search_docs. " +
	"Named accounts such as alice or bob may be used directly as tool arguments. " +
	"Always explain what you are doing in simple terms."

// SystemMessage renders the system prompt together with the grounding
// passages for providers that take a single system message.
func SystemMessage(req Request) string {
	system := strings.TrimSpace(req.System)
	if system == "" {
		system = DefaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(system)
	switch {
	case len(req.Knowledge) > 0:
		b.WriteString("\n\n## Documentation\n")
		for i, card := range req.Knowledge {
			fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, strings.TrimSpace(card.Title), card.ID, strings.TrimSpace(card.Content))
		}
	case req.Ungrounded:
		b.WriteString("\n\nDocumentation search is unavailable for this request; do not claim to cite documents.")
	}
	return b.String()
}
