package memory

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable chat entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
