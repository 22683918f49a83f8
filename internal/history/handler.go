// Package history exposes the read-only REST lookups: room details, a
// room's poll history, and single poll results. It sits outside the room
// runtime and reads straight from the repositories.
package history

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/polls"
	"github.com/classpulse/backend/internal/rooms"
	"github.com/classpulse/backend/pkg/response"
)

// RoomReader is the room lookup surface the handler needs.
type RoomReader interface {
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	ListParticipants(ctx context.Context, code string) ([]models.Participant, error)
}

// PollReader is the poll lookup surface the handler needs.
type PollReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListByRoom(ctx context.Context, roomCode string) ([]models.Poll, error)
	Tallies(ctx context.Context, pollID uuid.UUID) ([]models.Tally, error)
}

// Handler handles the history endpoints.
type Handler struct {
	rooms RoomReader
	polls PollReader
}

// NewHandler creates a history handler.
func NewHandler(roomReader RoomReader, pollReader PollReader) *Handler {
	return &Handler{rooms: roomReader, polls: pollReader}
}

// roomDetails is the GET /api/rooms/:code response body. The moderator
// credential never leaves the store.
type roomDetails struct {
	Code          string               `json:"code"`
	ModeratorName string               `json:"moderatorName"`
	CurrentPollID *uuid.UUID           `json:"currentPollId"`
	Participants  []models.Participant `json:"participants"`
}

// GetRoom handles GET /api/rooms/:code.
func (h *Handler) GetRoom(c *gin.Context) {
	code := c.Param("code")
	room, err := h.rooms.GetByCode(c.Request.Context(), code)
	if errors.Is(err, rooms.ErrNotFound) {
		response.NotFound(c, "room not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to fetch room")
		return
	}
	participants, err := h.rooms.ListParticipants(c.Request.Context(), code)
	if err != nil {
		response.Internal(c, "failed to fetch room")
		return
	}
	response.OK(c, roomDetails{
		Code:          room.Code,
		ModeratorName: room.ModeratorName,
		CurrentPollID: room.CurrentPollID,
		Participants:  participants,
	})
}

// ListRoomPolls handles GET /api/polls/:roomCode (newest first).
func (h *Handler) ListRoomPolls(c *gin.Context) {
	pollList, err := h.polls.ListByRoom(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		response.Internal(c, "failed to fetch polls")
		return
	}
	response.OK(c, pollList)
}

// GetPoll handles GET /api/poll/:pollId.
func (h *Handler) GetPoll(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("pollId"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.polls.GetByID(c.Request.Context(), pollID)
	if errors.Is(err, polls.ErrNotFound) {
		response.NotFound(c, "poll not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to fetch poll")
		return
	}
	tallies, err := h.polls.Tallies(c.Request.Context(), poll.ID)
	if err != nil {
		response.Internal(c, "failed to fetch poll")
		return
	}
	poll.ApplyTallies(tallies)
	response.OK(c, poll)
}
