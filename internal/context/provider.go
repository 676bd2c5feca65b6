package context

import "github.com/stupiduntilnot/gpttg/internal/session"

// SessionProvider reads conversation history from the in-memory session store.
type SessionProvider struct {
	Store *session.Store
}

// GetHistory flattens each stored exchange into a user message followed by
// the assistant reply.
func (p *SessionProvider) GetHistory(chatID int64) []Message {
	history := p.Store.History(chatID)
	messages := make([]Message, 0, 2*len(history))
	for _, ex := range history {
		messages = append(messages,
			Message{Role: RoleUser, Content: ex.User},
			Message{Role: RoleAssistant, Content: ex.Reply},
		)
	}
	return messages
}
