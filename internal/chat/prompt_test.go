package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/personas"
	"github.com/aiox-platform/companion/internal/relationship"
)

func TestBuildPrompt_SystemPrompt(t *testing.T) {
	age := 22
	c := &Context{
		Persona: &personas.Persona{
			Name:         "Luna",
			SystemPrompt: "You are Luna, a sweet girl.\nYou love the night sky.",
			Age:          &age,
			Hobbies:      []string{"stargazing", "baking"},
		},
		UserName:     "Budi",
		Relationship: &relationship.Relationship{IntimacyLevel: 45, Status: relationship.StatusClose},
		Memories: &memory.Memories{
			Profile: memory.Profile{"name": "Budi", "job": "developer"},
			Summary: &memory.Summary{Summary: "They talked about coffee."},
		},
	}

	msgs := BuildPrompt(c, "hi")
	sys := msgs[0].Content

	intro := strings.Index(sys, "You are Luna, a sweet girl.")
	profile := strings.Index(sys, "PROFILE:")
	rest := strings.Index(sys, "You love the night sky.")
	assert.True(t, intro < profile && profile < rest, "profile must follow the first line")

	assert.Contains(t, sys, "- Age: 22")
	assert.Contains(t, sys, "- Hobbies: stargazing, baking")
	assert.Contains(t, sys, "User's Name: Budi")
	assert.Contains(t, sys, "Your relationship with the user is: close (intimacy: 45/100)")
	assert.Contains(t, sys, "You're very close.")
	assert.Contains(t, sys, "--- WHAT YOU KNOW ABOUT THE USER ---\n- job: developer\n- name: Budi")
	assert.NotContains(t, sys, "RELATIONSHIP MEMORIES")
	assert.Contains(t, sys, "--- PREVIOUS CONVERSATION SUMMARY ---\nThey talked about coffee.")
	assert.True(t, strings.HasSuffix(sys, "- Use appropriate emojis occasionally"))

	assert.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestBuildPrompt_SingleLinePersona(t *testing.T) {
	c := &Context{
		Persona:      &personas.Persona{SystemPrompt: "You are Mia."},
		Relationship: &relationship.Relationship{Status: relationship.StatusStranger},
	}
	sys := BuildPrompt(c, "hey")[0].Content
	assert.True(t, strings.HasPrefix(sys, "You are Mia.\n\nPROFILE:"))
	assert.NotContains(t, sys, "User's Name")
	assert.Contains(t, sys, "You just met this person.")
}
