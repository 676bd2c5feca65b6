package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardAssembler_PromptHistoryThenUserText(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "what is go?"},
		{Role: RoleAssistant, Content: "a language"},
	}
	got := (&StandardAssembler{}).Assemble("You are a helpful assistant.", history, "who made it?")

	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "what is go?"},
		{Role: RoleAssistant, Content: "a language"},
		{Role: RoleUser, Content: "who made it?"},
	}, got)
}

func TestStandardAssembler_NoHistory(t *testing.T) {
	got := (&StandardAssembler{}).Assemble("sys", nil, "hello")
	require.Len(t, got, 2)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, Message{Role: RoleUser, Content: "hello"}, got[1])
}

func TestStandardAssembler_EmptySystemPromptOmitted(t *testing.T) {
	got := (&StandardAssembler{}).Assemble("", nil, "hello")
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hello"}}, got)
}

func TestStandardAssembler_DoesNotAliasHistory(t *testing.T) {
	history := make([]Message, 1, 4)
	history[0] = Message{Role: RoleUser, Content: "q"}
	got := (&StandardAssembler{}).Assemble("", history, "next")
	got[0].Content = "changed"
	assert.Equal(t, "q", history[0].Content)
}
