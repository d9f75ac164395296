package types

import "time"

// ChatRequest is the canonical internal representation of one conversational
// turn arriving at the gateway.
type ChatRequest struct {
	// Identity (set by the tenant middleware)
	RequestID        string `json:"request_id"`
	CallerID         string `json:"caller_id"`
	TenantID         string `json:"tenant_id,omitempty"`
	CrossTenantAdmin bool   `json:"-"`

	// Request content
	SessionID   string `json:"session_id,omitempty"`
	Question    string `json:"question"`
	RecentTurns []Turn `json:"recent_turns,omitempty"`

	// Internal tracking
	ReceivedAt time.Time `json:"-"`
}

// Turn is one prior exchange in the conversation. The pipeline only reads a
// trailing slice; the full history is owned by the caller.
type Turn struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Stamp string `json:"stamp,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TailTurns returns the last n turns, each truncated to maxChars runes.
func TailTurns(turns []Turn, n, maxChars int) []Turn {
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		r := []rune(t.Text)
		if len(r) > maxChars {
			t.Text = string(r[:maxChars])
		}
		out[i] = t
	}
	return out
}
