package models

import (
	"time"

	"github.com/google/uuid"
)

// Poll statuses. A poll transitions open -> closed exactly once.
const (
	PollStatusOpen   = "open"
	PollStatusClosed = "closed"
)

// Option is one answer choice. Votes is derived from recorded answers,
// never stored alongside the option itself.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct *bool  `json:"correct"`
	Votes   int    `json:"votes"`
}

// Answer records one participant's choice for a poll.
type Answer struct {
	SessionID  string    `json:"sessionId"`
	OptionID   string    `json:"optionId"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// Tally is the per-option running vote count broadcast with each answer.
type Tally struct {
	ID    string `json:"id"`
	Votes int    `json:"votes"`
}

// Poll is one question-with-options unit belonging to a room.
type Poll struct {
	ID        uuid.UUID  `json:"id"`
	RoomCode  string     `json:"roomCode"`
	Question  string     `json:"question"`
	Options   []Option   `json:"options"`
	Status    string     `json:"status"`
	Duration  *int       `json:"duration"` // seconds; nil means untimed
	StartedAt *time.Time `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// FindOption returns the option with the given id, or nil.
func (p *Poll) FindOption(id string) *Option {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// ApplyTallies copies derived vote counts onto the poll's options.
func (p *Poll) ApplyTallies(tallies []Tally) {
	counts := make(map[string]int, len(tallies))
	for _, t := range tallies {
		counts[t.ID] = t.Votes
	}
	for i := range p.Options {
		p.Options[i].Votes = counts[p.Options[i].ID]
	}
}

// TallyList returns per-option counts in option order.
func (p *Poll) TallyList() []Tally {
	out := make([]Tally, 0, len(p.Options))
	for _, o := range p.Options {
		out = append(out, Tally{ID: o.ID, Votes: o.Votes})
	}
	return out
}
