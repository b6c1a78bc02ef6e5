// Package compact keeps a tool-augmented conversation inside a model's
// context window by pruning and summarizing older turns.
package compact

import (
	"encoding/json"

	"github.com/reviewpilot/reviewpilot/pkg/models"
)

// charsPerToken is the approximation ratio used for occupancy estimation.
// This is a heuristic, not a tokenizer: the compactor only needs a roughly
// linear occupancy signal with a safety margin for prose and tool output.
const charsPerToken = 4

// EstimateTokens approximates the token count of a message list.
func EstimateTokens(msgs []models.ConversationMessage) int {
	chars := 0
	for _, m := range msgs {
		chars += messageChars(m)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

func estimateMessage(m models.ConversationMessage) int {
	return (messageChars(m) + charsPerToken - 1) / charsPerToken
}

// messageChars sums the character lengths of textual parts; structured parts
// fall back to their serialized length.
func messageChars(m models.ConversationMessage) int {
	chars := 0
	for _, p := range m.Parts {
		switch p.Kind {
		case models.PartText, models.PartThinking:
			chars += len(p.Text)
		default:
			if raw, err := json.Marshal(p); err == nil {
				chars += len(raw)
			} else {
				chars += len(p.Text) + len(p.Name) + len(p.Payload)
			}
		}
	}
	return chars
}
