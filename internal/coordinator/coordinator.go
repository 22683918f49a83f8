// Package coordinator is the room runtime: it decodes inbound events,
// enforces roles via the session registry, drives the poll lifecycle and
// completion detection, and broadcasts resulting state to the room.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/session"
	"github.com/classpulse/backend/internal/timer"
)

// RoomStore is the durable-store surface the coordinator needs for rooms
// and rosters.
type RoomStore interface {
	Create(ctx context.Context, room *models.Room) error
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	SetCurrentPoll(ctx context.Context, code string, pollID *uuid.UUID) error
	UpsertParticipant(ctx context.Context, code, sessionID, name string) error
	RemoveParticipant(ctx context.Context, code, sessionID string) error
	ListParticipants(ctx context.Context, code string) ([]models.Participant, error)
}

// PollStore is the durable-store surface for polls and answers.
type PollStore interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	FindOpenByRoom(ctx context.Context, roomCode string) (*models.Poll, error)
	CloseIfOpen(ctx context.Context, id uuid.UUID) (endedAt time.Time, closed bool, err error)
	InsertAnswer(ctx context.Context, pollID uuid.UUID, sessionID, optionID string) (inserted bool, err error)
	Tallies(ctx context.Context, pollID uuid.UUID) ([]models.Tally, error)
	CountAnswers(ctx context.Context, pollID uuid.UUID) (int, error)
	AnsweredSessions(ctx context.Context, pollID uuid.UUID) (map[string]struct{}, error)
}

// Broadcaster is the transport surface: room broadcast groups,
// per-connection delivery, and connection severing.
type Broadcaster interface {
	JoinRoom(connID, roomCode string)
	BroadcastToRoom(roomCode, event string, payload interface{})
	SendToClient(connID, event string, payload interface{})
	CloseClient(connID string)
}

// rejection is an operation rejected with a message for the caller; it
// carries no details and causes no state change.
type rejection struct{ message string }

func (r rejection) Error() string { return r.message }

func reject(message string) error { return rejection{message: message} }

// Coordinator wires the session registry, timer subsystem, durable store
// and transport together. All mutations for a given room are serialized
// through a per-room lock.
type Coordinator struct {
	rooms    RoomStore
	polls    PollStore
	registry *session.Registry
	timers   *timer.Timers
	bcast    Broadcaster
	clock    clockwork.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// New creates a coordinator.
func New(roomStore RoomStore, pollStore PollStore, registry *session.Registry, timers *timer.Timers, bcast Broadcaster, clock clockwork.Clock, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		rooms:     roomStore,
		polls:     pollStore,
		registry:  registry,
		timers:    timers,
		bcast:     bcast,
		clock:     clock,
		logger:    logger,
		roomLocks: make(map[string]*sync.Mutex),
	}
}

// HandleEvent decodes one inbound event and dispatches it. Failures are
// converted into an error event addressed only to the originating
// connection; they are never broadcast.
func (c *Coordinator) HandleEvent(ctx context.Context, connID, event string, data json.RawMessage) {
	var err error
	switch event {
	case EventCreateRoom:
		err = c.createRoom(ctx, connID, data)
	case EventJoinRoom:
		err = c.joinRoom(ctx, connID, data)
	case EventStartPoll:
		err = c.startPoll(ctx, connID, data)
	case EventSubmitAnswer:
		err = c.submitAnswer(ctx, connID, data)
	case EventEndPoll:
		err = c.endPoll(ctx, connID, data)
	case EventRemoveStudent:
		err = c.removeStudent(ctx, connID, data)
	case EventChatMessage:
		c.chatMessage(connID, data)
	default:
		// unknown events are ignored
	}
	if err != nil {
		c.sendError(connID, event, err)
	}
}

// HandleDisconnect cleans up a closed connection's binding and, best
// effort, rebroadcasts the persisted roster. An unbound connection is a
// silent no-op.
func (c *Coordinator) HandleDisconnect(ctx context.Context, connID string) {
	binding, ok := c.registry.Deactivate(connID)
	if !ok {
		return
	}
	participants, err := c.rooms.ListParticipants(ctx, binding.RoomCode)
	if err != nil {
		c.logger.Warn("roster broadcast after disconnect failed",
			zap.String("room", binding.RoomCode), zap.Error(err))
		return
	}
	c.broadcastParticipants(binding.RoomCode, participants)
}

// roomLock returns the mutex serializing all mutations for a room.
func (c *Coordinator) roomLock(roomCode string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.roomLocks[roomCode]
	if !ok {
		lock = &sync.Mutex{}
		c.roomLocks[roomCode] = lock
	}
	return lock
}

// sendError converts a handler failure into an error event for the caller.
// Rejections carry their own message; anything else is an infrastructure
// failure reported generically with the underlying cause as details.
func (c *Coordinator) sendError(connID, event string, err error) {
	var rej rejection
	if errors.As(err, &rej) {
		c.bcast.SendToClient(connID, EventError, ErrorEvent{Message: rej.message})
		return
	}
	c.logger.Error("event handler failed", zap.String("event", event), zap.Error(err))
	c.bcast.SendToClient(connID, EventError, ErrorEvent{
		Message: "Failed to handle " + event,
		Details: err.Error(),
	})
}

func (c *Coordinator) broadcastParticipants(roomCode string, participants []models.Participant) {
	infos := make([]ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		infos = append(infos, ParticipantInfo{SessionID: p.SessionID, Name: p.Name})
	}
	c.bcast.BroadcastToRoom(roomCode, EventParticipants, ParticipantsEvent{
		RoomCode:     roomCode,
		Participants: infos,
	})
}
