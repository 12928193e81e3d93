package transcript

import (
	"time"

	"github.com/ZaguanLabs/angel/internal/segment"
)

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) String() string { return string(r) }

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Angel"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one entry of a conversation.
type Turn struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Blocks segments the turn's content for display.
func (t Turn) Blocks() []segment.Block {
	return segment.Parse(t.Content)
}

func (t Turn) clone() Turn {
	if t.Attachments != nil {
		t.Attachments = append([]string(nil), t.Attachments...)
	}
	return t
}

// Message is the role/content pair sent to model backends.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages converts turns to request messages. Empty assistant turns, which
// are unanswered placeholders, are skipped.
func Messages(turns []Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleAssistant && t.Content == "" {
			continue
		}
		out = append(out, Message{Role: t.Role.String(), Content: t.Content})
	}
	return out
}
