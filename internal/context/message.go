package context

// Roles a conversation turn can carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat turn used across the context pipeline.
// It is also the persisted JSON shape of a history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
