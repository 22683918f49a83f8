package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/polls"
	"github.com/classpulse/backend/internal/rooms"
)

// startPoll handles start_poll. The implicit "catch-up close" of a fully
// answered stale poll and the opening of the new one are two explicit
// steps: closeIfFullyAnswered, then openPoll.
func (c *Coordinator) startPoll(ctx context.Context, connID string, data json.RawMessage) error {
	var p StartPollPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return reject("Invalid start_poll payload")
	}
	options := normalizeOptions(p.Options)
	if p.RoomCode == "" || strings.TrimSpace(p.Question) == "" || len(options) == 0 {
		return reject("Invalid start_poll payload")
	}
	if !c.registry.Authorize(connID, p.RoomCode, models.RoleModerator, "") {
		return reject("Only the moderator can start a poll")
	}

	lock := c.roomLock(p.RoomCode)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.rooms.GetByCode(ctx, p.RoomCode)
	if errors.Is(err, rooms.ErrNotFound) {
		return reject("Room not found")
	}
	if err != nil {
		return err
	}

	if err := c.closeIfFullyAnswered(ctx, room); err != nil {
		return err
	}
	return c.openPoll(ctx, room, p.Question, options, p.Duration)
}

// closeIfFullyAnswered rejects while an open poll still has unanswered
// active participants, and force-closes it (cause all_answered) when every
// active participant has answered.
func (c *Coordinator) closeIfFullyAnswered(ctx context.Context, room *models.Room) error {
	existing, err := c.openPollFor(ctx, room)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	all, err := c.allActiveAnswered(ctx, room.Code, existing.ID)
	if err != nil {
		return err
	}
	if !all {
		return reject("Previous poll still open and not all participants have answered")
	}
	return c.closePoll(ctx, room.Code, ReasonAllAnswered)
}

// openPoll persists a new open poll, points the room at it, arms the
// countdown when a positive duration is given, and announces it.
func (c *Coordinator) openPoll(ctx context.Context, room *models.Room, question string, options []models.Option, duration *int) error {
	now := c.clock.Now()
	poll := &models.Poll{
		RoomCode:  room.Code,
		Question:  question,
		Options:   options,
		Status:    models.PollStatusOpen,
		Duration:  duration,
		StartedAt: &now,
	}
	if err := c.polls.Create(ctx, poll); err != nil {
		return err
	}
	if err := c.rooms.SetCurrentPoll(ctx, room.Code, &poll.ID); err != nil {
		return err
	}

	roomCode := room.Code
	if duration != nil && *duration > 0 {
		c.timers.Arm(roomCode, time.Duration(*duration)*time.Second,
			func(remaining int) {
				c.bcast.BroadcastToRoom(roomCode, EventPollTimeUpdate, PollTimeUpdateEvent{
					RoomCode:         roomCode,
					RemainingSeconds: remaining,
				})
			},
			func() { c.expirePoll(roomCode) },
		)
	}

	c.bcast.BroadcastToRoom(roomCode, EventPollStarted, PollStartedEvent{
		RoomCode:  roomCode,
		PollID:    poll.ID,
		Question:  poll.Question,
		Options:   poll.Options,
		Duration:  poll.Duration,
		StartedAt: poll.StartedAt,
	})
	c.logger.Info("poll started", zap.String("room", roomCode), zap.String("poll", poll.ID.String()))
	return nil
}

// endPoll handles the moderator's explicit end_poll.
func (c *Coordinator) endPoll(ctx context.Context, connID string, data json.RawMessage) error {
	var p EndPollPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomCode == "" {
		return reject("roomCode required")
	}
	if !c.registry.Authorize(connID, p.RoomCode, models.RoleModerator, "") {
		return reject("Only the moderator can end the poll")
	}

	lock := c.roomLock(p.RoomCode)
	lock.Lock()
	defer lock.Unlock()
	return c.closePoll(ctx, p.RoomCode, ReasonModeratorEnded)
}

// expirePoll is invoked by the timer subsystem (tick reaching zero or the
// failsafe). closePoll's status check makes the second arrival a no-op.
func (c *Coordinator) expirePoll(roomCode string) {
	lock := c.roomLock(roomCode)
	lock.Lock()
	defer lock.Unlock()
	if err := c.closePoll(context.Background(), roomCode, ReasonTimeExpired); err != nil {
		c.logger.Error("close on expiry failed", zap.String("room", roomCode), zap.Error(err))
	}
}

// closePoll transitions the room's open poll to closed exactly once and
// broadcasts final results. A room with no open poll is a no-op. Callers
// must hold the room lock.
func (c *Coordinator) closePoll(ctx context.Context, roomCode, reason string) error {
	room, err := c.rooms.GetByCode(ctx, roomCode)
	if errors.Is(err, rooms.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	poll, err := c.openPollFor(ctx, room)
	if err != nil {
		return err
	}
	if poll == nil {
		return nil
	}

	endedAt, closed, err := c.polls.CloseIfOpen(ctx, poll.ID)
	if err != nil {
		return err
	}
	if !closed {
		// lost the race; the winner already broadcast poll_ended
		return nil
	}

	c.timers.Disarm(roomCode)
	if room.CurrentPollID != nil && *room.CurrentPollID == poll.ID {
		if err := c.rooms.SetCurrentPoll(ctx, roomCode, nil); err != nil {
			return err
		}
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

	c.bcast.BroadcastToRoom(roomCode, EventPollEnded, PollEndedEvent{
		RoomCode: roomCode,
		PollID:   poll.ID,
		Reason:   reason,
		Results: PollResults{
			Options:      poll.Options,
			TotalAnswers: total,
			Question:     poll.Question,
			EndedAt:      endedAt,
		},
	})
	c.logger.Info("poll ended",
		zap.String("room", roomCode),
		zap.String("poll", poll.ID.String()),
		zap.String("reason", reason),
	)
	return nil
}

// openPollFor resolves the room's open poll: the current-poll pointer
// first, then a defensive scan for any open poll in the room in case the
// pointer is stale. Returns nil when the room has no open poll.
func (c *Coordinator) openPollFor(ctx context.Context, room *models.Room) (*models.Poll, error) {
	if room.CurrentPollID != nil {
		poll, err := c.polls.GetByID(ctx, *room.CurrentPollID)
		if err != nil && !errors.Is(err, polls.ErrNotFound) {
			return nil, err
		}
		if poll != nil && poll.Status == models.PollStatusOpen {
			return poll, nil
		}
	}
	poll, err := c.polls.FindOpenByRoom(ctx, room.Code)
	if errors.Is(err, polls.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return poll, nil
}

// normalizeOptions trims texts, drops empty entries, and assigns stable
// ids (opt_<1-based index>) to options lacking one.
func normalizeOptions(inputs []OptionInput) []models.Option {
	options := make([]models.Option, 0, len(inputs))
	for i, in := range inputs {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}
		id := in.ID
		if id == "" {
			id = fmt.Sprintf("opt_%d", i+1)
		}
		options = append(options, models.Option{ID: id, Text: text, Correct: in.Correct})
	}
	return options
}
