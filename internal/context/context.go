package context

// Provider retrieves the conversation history for a chat as role-tagged
// messages, oldest first.
type Provider interface {
	GetHistory(chatID int64) []Message
}

// Assembler combines system prompt, history, and user message into a final message list.
type Assembler interface {
	Assemble(system string, history []Message, userMsg string) []Message
}
