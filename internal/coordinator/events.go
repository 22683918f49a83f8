package coordinator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/backend/internal/models"
)

// Inbound event names.
const (
	EventCreateRoom    = "create_room"
	EventJoinRoom      = "join_room"
	EventStartPoll     = "start_poll"
	EventSubmitAnswer  = "submit_answer"
	EventEndPoll       = "end_poll"
	EventRemoveStudent = "remove_student"
	EventChatMessage   = "chat_message"
)

// Outbound event names.
const (
	EventRoomCreated    = "room_created"
	EventRoomJoined     = "room_joined"
	EventParticipants   = "participants"
	EventPollStarted    = "poll_started"
	EventPollTimeUpdate = "poll_time_update"
	EventAnswerReceived = "answer_received"
	EventPollEnded      = "poll_ended"
	EventStudentRemoved = "student_removed"
	EventError          = "error"
)

// Poll end causes.
const (
	ReasonTimeExpired    = "time_expired"
	ReasonAllAnswered    = "all_answered"
	ReasonModeratorEnded = "moderator_ended"
)

// CreateRoomPayload is the create_room request body.
type CreateRoomPayload struct {
	Code          string `json:"code"`
	ModeratorName string `json:"moderatorName"`
	ModeratorPass string `json:"moderatorPass"`
}

// JoinRoomPayload is the join_room request body.
type JoinRoomPayload struct {
	RoomCode  string `json:"roomCode"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// OptionInput is one option in a start_poll request. It accepts either a
// bare string ("Yes") or an object ({"id": "opt_1", "text": "Yes"}).
type OptionInput struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct *bool  `json:"correct"`
}

// UnmarshalJSON allows plain strings as shorthand for {"text": ...}.
func (o *OptionInput) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		o.ID, o.Text, o.Correct = "", text, nil
		return nil
	}
	type alias OptionInput
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*o = OptionInput(a)
	return nil
}

// StartPollPayload is the start_poll request body.
type StartPollPayload struct {
	RoomCode string        `json:"roomCode"`
	Question string        `json:"question"`
	Options  []OptionInput `json:"options"`
	Duration *int          `json:"duration"`
}

// SubmitAnswerPayload is the submit_answer request body.
type SubmitAnswerPayload struct {
	RoomCode  string `json:"roomCode"`
	SessionID string `json:"sessionId"`
	OptionID  string `json:"optionId"`
}

// EndPollPayload is the end_poll request body.
type EndPollPayload struct {
	RoomCode string `json:"roomCode"`
}

// RemoveStudentPayload is the remove_student request body.
type RemoveStudentPayload struct {
	RoomCode  string `json:"roomCode"`
	SessionID string `json:"sessionId"`
}

// ChatMessagePayload is both the chat_message request and broadcast body.
type ChatMessagePayload struct {
	RoomCode string `json:"roomCode"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	Time     string `json:"time"`
}

// RoomCreatedEvent acknowledges create_room to the caller.
type RoomCreatedEvent struct {
	RoomCode      string `json:"roomCode"`
	ModeratorName string `json:"moderatorName"`
}

// RoomJoinedEvent acknowledges join_room to the caller.
type RoomJoinedEvent struct {
	RoomCode  string `json:"roomCode"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// ParticipantInfo is one roster entry in a participants broadcast.
type ParticipantInfo struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// ParticipantsEvent carries the full current roster.
type ParticipantsEvent struct {
	RoomCode     string            `json:"roomCode"`
	Participants []ParticipantInfo `json:"participants"`
}

// PollStartedEvent announces an open poll to the room (or a late joiner).
type PollStartedEvent struct {
	RoomCode  string          `json:"roomCode"`
	PollID    uuid.UUID       `json:"pollId"`
	Question  string          `json:"question"`
	Options   []models.Option `json:"options"`
	Duration  *int            `json:"duration"`
	StartedAt *time.Time      `json:"startedAt"`
}

// PollTimeUpdateEvent is the once-per-second countdown tick.
type PollTimeUpdateEvent struct {
	RoomCode         string `json:"roomCode"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// AnswerReceivedEvent carries updated tallies after each recorded answer.
type AnswerReceivedEvent struct {
	RoomCode     string         `json:"roomCode"`
	PollID       uuid.UUID      `json:"pollId"`
	OptionID     string         `json:"optionId"`
	TotalAnswers int            `json:"totalAnswers"`
	Tallies      []models.Tally `json:"tallies"`
}

// PollResults is the final tally snapshot inside poll_ended.
type PollResults struct {
	Options      []models.Option `json:"options"`
	TotalAnswers int             `json:"totalAnswers"`
	Question     string          `json:"question"`
	EndedAt      time.Time       `json:"endedAt"`
}

// PollEndedEvent announces a closed poll with its final results.
type PollEndedEvent struct {
	RoomCode string      `json:"roomCode"`
	PollID   uuid.UUID   `json:"pollId"`
	Reason   string      `json:"reason"`
	Results  PollResults `json:"results"`
}

// StudentRemovedEvent notifies the target and the room of a removal.
type StudentRemovedEvent struct {
	RoomCode  string `json:"roomCode"`
	SessionID string `json:"sessionId"`
}

// ErrorEvent is sent only to the originating connection.
type ErrorEvent struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
