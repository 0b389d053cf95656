package session

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Source points at an excerpt that grounded part of an assistant answer.
type Source struct {
	ExcerptText string `json:"excerptText"`
	PageNumber  int    `json:"pageNumber,omitempty"`
}

// Message is a single conversation turn. Content is mutable while
// IsStreaming is true and frozen once the stream finalizes it.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Sources     []Source  `json:"sources,omitempty"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
