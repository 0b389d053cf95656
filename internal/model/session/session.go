package session

import (
	"strings"
	"time"
)

// DefaultTitle is assigned to sessions created without a context string.
const DefaultTitle = "New Conversation"

// ScopedTitlePrefix marks titles derived from a highlight or document context.
const ScopedTitlePrefix = "Chat: "

// SearchMode selects the retrieval scope for a session.
type SearchMode string

const (
	SearchLocal  SearchMode = "local"
	SearchGlobal SearchMode = "global"
)

// Session captures one independent conversation thread and its retrieval scope.
type Session struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	CreatedAt            time.Time  `json:"createdAt"`
	Preview              string     `json:"preview"`
	Color                string     `json:"color,omitempty"`
	DocumentHash         string     `json:"documentHash,omitempty"`
	ContextFilter        string     `json:"contextFilter,omitempty"`
	SearchMode           SearchMode `json:"searchMode"`
	IncludeOtherSessions bool       `json:"includeOtherSessions"`
	Messages             []Message  `json:"messages"`
	TitlingAttempted     bool       `json:"titlingAttempted"`
	AutoStartPrompt      string     `json:"autoStartPrompt,omitempty"`

	// MessagesLoaded distinguishes "no messages" from "not hydrated yet".
	MessagesLoaded bool `json:"-"`
}

// HasDefaultTitle reports whether the title is still a generated placeholder,
// making the session eligible for automatic titling.
func (s Session) HasDefaultTitle() bool {
	return s.Title == DefaultTitle || strings.HasPrefix(s.Title, ScopedTitlePrefix)
}

// Record is the persisted snapshot of a session, without its messages.
// Messages are lazily loaded when the session becomes active.
type Record struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	CreatedAt            time.Time  `json:"createdAt"`
	Preview              string     `json:"preview"`
	Color                string     `json:"color,omitempty"`
	DocumentHash         string     `json:"documentHash,omitempty"`
	ContextFilter        string     `json:"contextFilter,omitempty"`
	SearchMode           SearchMode `json:"searchMode"`
	IncludeOtherSessions bool       `json:"includeOtherSessions"`
	TitlingAttempted     bool       `json:"titlingAttempted"`
}

// RecordOf projects a session onto its persisted shape.
func RecordOf(s Session) Record {
	return Record{
		ID:                   s.ID,
		Title:                s.Title,
		CreatedAt:            s.CreatedAt,
		Preview:              s.Preview,
		Color:                s.Color,
		DocumentHash:         s.DocumentHash,
		ContextFilter:        s.ContextFilter,
		SearchMode:           s.SearchMode,
		IncludeOtherSessions: s.IncludeOtherSessions,
		TitlingAttempted:     s.TitlingAttempted,
	}
}

// RequestKind tags the variants accepted by session creation.
type RequestKind string

const (
	KindDefault RequestKind = "default"
	KindNamed   RequestKind = "named"
	KindScoped  RequestKind = "scoped"
)

// NewSessionRequest is the tagged-variant input for creating a session.
// Named requests carry a context string; scoped requests bind the session to
// a (document, color) pair.
type NewSessionRequest struct {
	Kind RequestKind `json:"kind"`

	// Name is the context string for named requests. For scoped requests it
	// optionally overrides the display name derived from the color.
	Name string `json:"name,omitempty"`

	DocumentHash    string     `json:"documentHash,omitempty"`
	ContextFilter   string     `json:"contextFilter,omitempty"`
	Color           string     `json:"color,omitempty"`
	SearchMode      SearchMode `json:"searchMode,omitempty"`
	AutoStartPrompt string     `json:"autoStartPrompt,omitempty"`
}
