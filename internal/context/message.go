package context

// Chat roles understood by the completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat message used across the context pipeline.
type Message struct {
	Role    string
	Content string
}
