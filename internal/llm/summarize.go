package llm

import (
	"context"
	"strings"
)

const summaryInstruction = `You are a conversation summarizer. Summarize the following conversation between a user and their AI companion. Focus on:
1. Key topics discussed
2. Important personal information shared by the user
3. Emotional moments or relationship milestones
4. Any promises or plans made
Be concise but capture all important details. Write in third person.`

// Summarize condenses a chronological transcript into a third-person summary.
func (c *Client) Summarize(ctx context.Context, transcript []Message) (string, error) {
	var b strings.Builder
	for i, m := range transcript {
		if i > 0 {
			b.WriteByte('\n')
		}
		if m.Role == RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("AI: ")
		}
		b.WriteString(m.Content)
	}

	return c.Complete(ctx, []Message{
		{Role: RoleSystem, Content: summaryInstruction},
		{Role: RoleUser, Content: "Summarize this conversation:\n\n" + b.String()},
	})
}
