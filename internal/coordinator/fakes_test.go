package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/polls"
	"github.com/classpulse/backend/internal/rooms"
)

// fakeRoomStore is an in-memory RoomStore honoring the repository
// contract, including the not-found sentinel.
type fakeRoomStore struct {
	mu     sync.Mutex
	rooms  map[string]models.Room
	roster map[string][]models.Participant
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{
		rooms:  make(map[string]models.Room),
		roster: make(map[string][]models.Participant),
	}
}

func (s *fakeRoomStore) Create(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.CreatedAt = time.Now()
	room.UpdatedAt = room.CreatedAt
	s.rooms[room.Code] = *room
	return nil
}

func (s *fakeRoomStore) GetByCode(_ context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, rooms.ErrNotFound
	}
	out := room
	return &out, nil
}

func (s *fakeRoomStore) SetCurrentPoll(_ context.Context, code string, pollID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return rooms.ErrNotFound
	}
	room.CurrentPollID = pollID
	s.rooms[code] = room
	return nil
}

func (s *fakeRoomStore) UpsertParticipant(_ context.Context, code, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.roster[code] {
		if p.SessionID == sessionID {
			s.roster[code][i].Name = name
			return nil
		}
	}
	s.roster[code] = append(s.roster[code], models.Participant{SessionID: sessionID, Name: name, JoinedAt: time.Now()})
	return nil
}

func (s *fakeRoomStore) RemoveParticipant(_ context.Context, code, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.roster[code][:0]
	for _, p := range s.roster[code] {
		if p.SessionID != sessionID {
			kept = append(kept, p)
		}
	}
	s.roster[code] = kept
	return nil
}

func (s *fakeRoomStore) ListParticipants(_ context.Context, code string) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Participant(nil), s.roster[code]...), nil
}

// fakePollStore is an in-memory PollStore with the same atomic guards as
// the SQL repository: conditional close and insert-if-absent answers.
type fakePollStore struct {
	mu      sync.Mutex
	polls   map[uuid.UUID]models.Poll
	answers map[uuid.UUID][]models.Answer
}

func newFakePollStore() *fakePollStore {
	return &fakePollStore{
		polls:   make(map[uuid.UUID]models.Poll),
		answers: make(map[uuid.UUID][]models.Answer),
	}
}

func copyPoll(p models.Poll) models.Poll {
	p.Options = append([]models.Option(nil), p.Options...)
	return p
}

func (s *fakePollStore) Create(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	s.polls[p.ID] = copyPoll(*p)
	return nil
}

func (s *fakePollStore) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, polls.ErrNotFound
	}
	out := copyPoll(p)
	return &out, nil
}

func (s *fakePollStore) FindOpenByRoom(_ context.Context, roomCode string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Poll
	for _, p := range s.polls {
		if p.RoomCode == roomCode && p.Status == models.PollStatusOpen {
			if found == nil || (p.StartedAt != nil && found.StartedAt != nil && p.StartedAt.After(*found.StartedAt)) {
				cp := copyPoll(p)
				found = &cp
			}
		}
	}
	if found == nil {
		return nil, polls.ErrNotFound
	}
	return found, nil
}

func (s *fakePollStore) CloseIfOpen(_ context.Context, id uuid.UUID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok || p.Status != models.PollStatusOpen {
		return time.Time{}, false, nil
	}
	now := time.Now()
	p.Status = models.PollStatusClosed
	p.EndedAt = &now
	s.polls[id] = p
	return now, true, nil
}

func (s *fakePollStore) InsertAnswer(_ context.Context, pollID uuid.UUID, sessionID, optionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.answers[pollID] {
		if a.SessionID == sessionID {
			return false, nil
		}
	}
	s.answers[pollID] = append(s.answers[pollID], models.Answer{
		SessionID:  sessionID,
		OptionID:   optionID,
		AnsweredAt: time.Now(),
	})
	return true, nil
}

func (s *fakePollStore) Tallies(_ context.Context, pollID uuid.UUID) ([]models.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range s.answers[pollID] {
		counts[a.OptionID]++
	}
	var out []models.Tally
	for id, votes := range counts {
		out = append(out, models.Tally{ID: id, Votes: votes})
	}
	return out, nil
}

func (s *fakePollStore) CountAnswers(_ context.Context, pollID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers[pollID]), nil
}

func (s *fakePollStore) AnsweredSessions(_ context.Context, pollID uuid.UUID) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answered := make(map[string]struct{}, len(s.answers[pollID]))
	for _, a := range s.answers[pollID] {
		answered[a.SessionID] = struct{}{}
	}
	return answered, nil
}

// sentMessage is one delivery recorded by the fake broadcaster.
type sentMessage struct {
	target  string // "room:<code>" or "conn:<id>"
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []sentMessage
	closed   []string
}

func (b *fakeBroadcaster) JoinRoom(connID, roomCode string) {}

func (b *fakeBroadcaster) BroadcastToRoom(roomCode, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, sentMessage{target: "room:" + roomCode, event: event, payload: payload})
}

func (b *fakeBroadcaster) SendToClient(connID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, sentMessage{target: "conn:" + connID, event: event, payload: payload})
}

func (b *fakeBroadcaster) CloseClient(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, connID)
}

func (b *fakeBroadcaster) all() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.messages...)
}

func (b *fakeBroadcaster) named(event string) []sentMessage {
	var out []sentMessage
	for _, m := range b.all() {
		if m.event == event {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) toConn(connID, event string) []sentMessage {
	var out []sentMessage
	for _, m := range b.all() {
		if m.target == "conn:"+connID && m.event == event {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBroadcaster) closedConns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}
