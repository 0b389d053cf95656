package syncevent

import "encoding/json"

// Kind enumerates the change events broadcast between windows.
type Kind string

const (
	ThemeChanged    Kind = "theme_changed"
	SessionsChanged Kind = "sessions_changed"
	ColorsChanged   Kind = "colors_changed"
)

// Event is one typed change notification. Windows converge by applying
// events against their own hydrated copy; no window may assume another's
// in-memory state is current.
type Event struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
