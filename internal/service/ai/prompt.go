package ai

import (
	"fmt"
	"strings"

	"github.com/moturi311/securechat/backend/internal/model/chat"
	"github.com/moturi311/securechat/backend/internal/model/persona"
)

// BuildSystemPrompt combines the seller persona, the buyer's name and the
// recent transcript into one system instruction.
func BuildSystemPrompt(p persona.Persona, buyerName string, transcript []chat.Message) string {
	if buyerName == "" {
		buyerName = "a customer"
	}

	var b strings.Builder
	b.WriteString(p.Personality)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Your name is %s. You are chatting with %s.\n", p.Name, buyerName)

	if len(transcript) > 0 {
		b.WriteString("\nRecent conversation history:\n")
		for _, msg := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nRespond naturally as %s, maintaining your personality style (%s). ", p.Name, p.Style)
	b.WriteString("Be helpful and address the customer's needs while staying in character.")
	return b.String()
}
