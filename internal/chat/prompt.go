package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aiox-platform/companion/internal/llm"
	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/personas"
	"github.com/aiox-platform/companion/internal/relationship"
)

// Context is everything the prompt is assembled from.
type Context struct {
	Persona      *personas.Persona
	UserName     string
	Relationship *relationship.Relationship
	Memories     *memory.Memories
	// Recent is the conversation before the current message, oldest first.
	Recent []memory.Message
}

var tierGuidance = map[relationship.Status]string{
	relationship.StatusStranger: "You just met this person. Be friendly but not too forward. Get to know them.",
	relationship.StatusFriend:   "You're friends now. Be warmer, remember things about them, and show genuine interest.",
	relationship.StatusClose:    "You're very close. Use more affectionate language, share personal thoughts, and be protective.",
	relationship.StatusLover:    "You're deeply in love. Be romantic, sweet, and deeply caring. Use pet names naturally.",
}

const instructions = `--- INSTRUCTIONS ---
- Always respond in English
- Stay in character at all times
- Keep responses concise (1-3 paragraphs max)
- React naturally to what the user says
- Never break character or mention you are an AI
- Use appropriate emojis occasionally`

// BuildPrompt returns the system instruction, the recent conversation and the
// current user message, in that order.
func BuildPrompt(c *Context, userMessage string) []llm.Message {
	msgs := make([]llm.Message, 0, len(c.Recent)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(c)})
	for _, m := range c.Recent {
		role := llm.RoleAssistant
		if m.Role == memory.RoleUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})
}

func systemPrompt(c *Context) string {
	var b strings.Builder

	// The persona profile goes right after the introduction line.
	intro, rest, found := strings.Cut(c.Persona.SystemPrompt, "\n")
	b.WriteString(intro)
	b.WriteString("\n")
	writeProfile(&b, c.Persona)
	if found {
		b.WriteString("\n")
		b.WriteString(rest)
	}

	b.WriteString("\n\n--- RELATIONSHIP STATUS ---")
	if c.UserName != "" {
		fmt.Fprintf(&b, "\nUser's Name: %s", c.UserName)
	}
	fmt.Fprintf(&b, "\nYour relationship with the user is: %s (intimacy: %d/100)",
		c.Relationship.Status, c.Relationship.IntimacyLevel)
	if g, ok := tierGuidance[c.Relationship.Status]; ok {
		b.WriteString("\n" + g)
	}

	if c.Memories != nil {
		writeFacts(&b, "WHAT YOU KNOW ABOUT THE USER", c.Memories.Profile)
		writeFacts(&b, "RELATIONSHIP MEMORIES", c.Memories.Relationship)
		if c.Memories.Summary != nil && c.Memories.Summary.Summary != "" {
			b.WriteString("\n\n--- PREVIOUS CONVERSATION SUMMARY ---\n")
			b.WriteString(c.Memories.Summary.Summary)
		}
	}

	b.WriteString("\n\n")
	b.WriteString(instructions)
	return b.String()
}

func writeProfile(b *strings.Builder, p *personas.Persona) {
	b.WriteString("\nPROFILE:")
	if p.Age != nil {
		fmt.Fprintf(b, "\n- Age: %d", *p.Age)
	}
	if p.Birthday != nil {
		fmt.Fprintf(b, "\n- Birthday: %s", *p.Birthday)
	}
	fmt.Fprintf(b, "\n- Hobbies: %s", strings.Join(p.Hobbies, ", "))
	fmt.Fprintf(b, "\n- Likes: %s", strings.Join(p.Likes, ", "))
	fmt.Fprintf(b, "\n- Dislikes: %s", strings.Join(p.Dislikes, ", "))
	if p.Background != nil {
		fmt.Fprintf(b, "\n- Background: %s", *p.Background)
	}
	b.WriteString("\n")
}

func writeFacts(b *strings.Builder, title string, facts memory.Profile) {
	if len(facts) == 0 {
		return
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "\n\n--- %s ---", title)
	for _, k := range keys {
		fmt.Fprintf(b, "\n- %s: %s", k, facts[k])
	}
}
