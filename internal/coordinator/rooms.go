package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/rooms"
	"github.com/classpulse/backend/pkg/utils"
)

// createRoom handles create_room. First connect creates the room; a
// reconnect to an existing room must present the stored credential.
func (c *Coordinator) createRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var p CreateRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Code == "" || p.ModeratorName == "" || p.ModeratorPass == "" {
		return reject("Missing required fields for create_room")
	}

	lock := c.roomLock(p.Code)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.rooms.GetByCode(ctx, p.Code)
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		hash, err := utils.HashPassword(p.ModeratorPass)
		if err != nil {
			return err
		}
		room = &models.Room{Code: p.Code, ModeratorName: p.ModeratorName, ModeratorPass: hash}
		if err := c.rooms.Create(ctx, room); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if !utils.CheckPassword(p.ModeratorPass, room.ModeratorPass) {
			return reject("Invalid moderator credentials")
		}
	}

	c.registry.BindModerator(p.Code, connID)
	c.bcast.JoinRoom(connID, p.Code)
	c.bcast.SendToClient(connID, EventRoomCreated, RoomCreatedEvent{
		RoomCode:      p.Code,
		ModeratorName: room.ModeratorName,
	})
	c.logger.Info("moderator connected", zap.String("room", p.Code))
	return nil
}

// joinRoom handles join_room: roster upsert, binding, roster broadcast,
// and catch-up poll_started for a late joiner when a poll is open.
func (c *Coordinator) joinRoom(ctx context.Context, connID string, data json.RawMessage) error {
	var p JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomCode == "" || p.SessionID == "" || p.Name == "" {
		return reject("Missing required fields for join_room")
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

	if err := c.rooms.UpsertParticipant(ctx, p.RoomCode, p.SessionID, p.Name); err != nil {
		return err
	}
	c.registry.BindParticipant(p.RoomCode, connID, p.SessionID)
	c.bcast.JoinRoom(connID, p.RoomCode)

	c.bcast.SendToClient(connID, EventRoomJoined, RoomJoinedEvent{
		RoomCode:  p.RoomCode,
		SessionID: p.SessionID,
		Name:      p.Name,
	})

	participants, err := c.rooms.ListParticipants(ctx, p.RoomCode)
	if err != nil {
		return err
	}
	c.broadcastParticipants(p.RoomCode, participants)

	c.sendOpenPollTo(ctx, connID, room)
	return nil
}

// sendOpenPollTo informs a newly joined connection of the room's open
// poll, if any, with the countdown's remaining seconds as its duration.
func (c *Coordinator) sendOpenPollTo(ctx context.Context, connID string, room *models.Room) {
	if room.CurrentPollID == nil {
		return
	}
	poll, err := c.polls.GetByID(ctx, *room.CurrentPollID)
	if err != nil || poll.Status != models.PollStatusOpen {
		return
	}
	tallies, err := c.polls.Tallies(ctx, poll.ID)
	if err != nil {
		return
	}
	poll.ApplyTallies(tallies)

	duration := poll.Duration
	if remaining, armed := c.timers.Remaining(room.Code); armed {
		duration = &remaining
	}
	c.bcast.SendToClient(connID, EventPollStarted, PollStartedEvent{
		RoomCode:  room.Code,
		PollID:    poll.ID,
		Question:  poll.Question,
		Options:   poll.Options,
		Duration:  duration,
		StartedAt: poll.StartedAt,
	})
}

// removeStudent handles remove_student: moderator-only forced removal
// from roster and active set, severing any connection bound to the
// session. Removing the last unanswered participant can complete the
// open poll.
func (c *Coordinator) removeStudent(ctx context.Context, connID string, data json.RawMessage) error {
	var p RemoveStudentPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomCode == "" || p.SessionID == "" {
		return reject("roomCode and sessionId required")
	}
	if !c.registry.Authorize(connID, p.RoomCode, models.RoleModerator, "") {
		return reject("Only the moderator can remove a participant")
	}

	lock := c.roomLock(p.RoomCode)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.rooms.GetByCode(ctx, p.RoomCode); errors.Is(err, rooms.ErrNotFound) {
		return reject("Room not found")
	} else if err != nil {
		return err
	}
	if err := c.rooms.RemoveParticipant(ctx, p.RoomCode, p.SessionID); err != nil {
		return err
	}

	removed := StudentRemovedEvent{RoomCode: p.RoomCode, SessionID: p.SessionID}
	for _, targetConn := range c.registry.RemoveSession(p.RoomCode, p.SessionID) {
		c.bcast.SendToClient(targetConn, EventStudentRemoved, removed)
		c.bcast.CloseClient(targetConn)
	}
	c.bcast.BroadcastToRoom(p.RoomCode, EventStudentRemoved, removed)

	participants, err := c.rooms.ListParticipants(ctx, p.RoomCode)
	if err != nil {
		return err
	}
	c.broadcastParticipants(p.RoomCode, participants)

	// The removed session may have been the only one still unanswered.
	return c.completeIfAllAnswered(ctx, p.RoomCode)
}

// chatMessage relays a chat message to the room. Malformed or unbound
// senders are ignored rather than rejected.
func (c *Coordinator) chatMessage(connID string, data json.RawMessage) {
	var p ChatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomCode == "" || p.Message == "" {
		return
	}
	binding, ok := c.registry.Lookup(connID)
	if !ok || binding.RoomCode != p.RoomCode {
		return
	}
	if p.Time == "" {
		p.Time = c.clock.Now().UTC().Format(time.RFC3339)
	}
	c.bcast.BroadcastToRoom(p.RoomCode, EventChatMessage, p)
}
