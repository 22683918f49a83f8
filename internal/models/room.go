package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles a connection can hold inside a room.
const (
	RoleModerator   = "moderator"
	RoleParticipant = "participant"
)

// Room is a named live session owned by one moderator. It references at
// most one currently-open poll and is never deleted by the runtime.
type Room struct {
	Code          string     `json:"code"`
	ModeratorName string     `json:"moderatorName"`
	ModeratorPass string     `json:"-"` // bcrypt hash, never serialized
	CurrentPollID *uuid.UUID `json:"currentPollId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Participant is a roster entry: a session id stable across reconnects
// plus the display name last supplied on join.
type Participant struct {
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joinedAt"`
}
