package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/polls"
	"github.com/classpulse/backend/internal/rooms"
)

// submitAnswer handles submit_answer: one answer per active participant
// per open poll, live tally broadcast, then completion detection.
func (c *Coordinator) submitAnswer(ctx context.Context, connID string, data json.RawMessage) error {
	var p SubmitAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomCode == "" || p.SessionID == "" || p.OptionID == "" {
		return reject("Invalid submit_answer payload")
	}
	// A participant may only answer as themselves.
	if !c.registry.Authorize(connID, p.RoomCode, models.RoleParticipant, p.SessionID) {
		return reject("Not authorized to submit answer")
	}

	lock := c.roomLock(p.RoomCode)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.rooms.GetByCode(ctx, p.RoomCode)
	if errors.Is(err, rooms.ErrNotFound) {
		return reject("No active poll")
	}
	if err != nil {
		return err
	}
	if room.CurrentPollID == nil {
		return reject("No active poll")
	}

	poll, err := c.polls.GetByID(ctx, *room.CurrentPollID)
	if errors.Is(err, polls.ErrNotFound) {
		return reject("Poll is not open")
	}
	if err != nil {
		return err
	}
	if poll.Status != models.PollStatusOpen {
		return reject("Poll is not open")
	}
	if poll.FindOption(p.OptionID) == nil {
		return reject("Invalid option")
	}

	inserted, err := c.polls.InsertAnswer(ctx, poll.ID, p.SessionID, p.OptionID)
	if err != nil {
		return err
	}
	if !inserted {
		return reject("Already answered")
	}

	tallies, err := c.polls.Tallies(ctx, poll.ID)
	if err != nil {
		return err
	}
	poll.ApplyTallies(tallies)
	total, err := c.polls.CountAnswers(ctx, poll.ID)
	if err != nil {
		return err
	}

	c.bcast.BroadcastToRoom(p.RoomCode, EventAnswerReceived, AnswerReceivedEvent{
		RoomCode:     p.RoomCode,
		PollID:       poll.ID,
		OptionID:     p.OptionID,
		TotalAnswers: total,
		Tallies:      poll.TallyList(),
	})

	return c.completeIfAllAnswered(ctx, p.RoomCode)
}

// completeIfAllAnswered closes the room's open poll when every currently
// active participant has an answer recorded. Callers must hold the room
// lock.
func (c *Coordinator) completeIfAllAnswered(ctx context.Context, roomCode string) error {
	room, err := c.rooms.GetByCode(ctx, roomCode)
	if errors.Is(err, rooms.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	poll, err := c.openPollFor(ctx, room)
	if err != nil || poll == nil {
		return err
	}
	all, err := c.allActiveAnswered(ctx, roomCode, poll.ID)
	if err != nil {
		return err
	}
	if !all {
		return nil
	}
	return c.closePoll(ctx, roomCode, ReasonAllAnswered)
}

// allActiveAnswered holds iff the active set is non-empty and every
// active session has a recorded answer. The check runs against currently
// connected participants, not the historical roster, so a disconnected
// participant cannot block closure and an empty room never auto-closes.
func (c *Coordinator) allActiveAnswered(ctx context.Context, roomCode string, pollID uuid.UUID) (bool, error) {
	active := c.registry.ActiveSessions(roomCode)
	if len(active) == 0 {
		return false, nil
	}
	answered, err := c.polls.AnsweredSessions(ctx, pollID)
	if err != nil {
		return false, err
	}
	for sessionID := range active {
		if _, ok := answered[sessionID]; !ok {
			return false, nil
		}
	}
	return true, nil
}
