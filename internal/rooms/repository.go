package rooms

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/models"
)

// ErrNotFound is returned when no room exists for the given code.
var ErrNotFound = errors.New("room not found")

// Repository handles room and roster persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new room. The moderator pass must already be hashed.
func (r *Repository) Create(ctx context.Context, room *models.Room) error {
	const query = `INSERT INTO rooms (code, moderator_name, moderator_pass)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query, room.Code, room.ModeratorName, room.ModeratorPass).
		Scan(&room.CreatedAt, &room.UpdatedAt)
}

// GetByCode returns a room by its code, or ErrNotFound.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	const query = `SELECT code, moderator_name, moderator_pass, current_poll_id, created_at, updated_at
		FROM rooms WHERE code = $1`
	var room models.Room
	err := r.pool.QueryRow(ctx, query, code).
		Scan(&room.Code, &room.ModeratorName, &room.ModeratorPass, &room.CurrentPollID, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// SetCurrentPoll updates the room's open-poll pointer. Pass nil to clear it.
func (r *Repository) SetCurrentPoll(ctx context.Context, code string, pollID *uuid.UUID) error {
	const query = `UPDATE rooms SET current_poll_id = $2, updated_at = NOW() WHERE code = $1`
	_, err := r.pool.Exec(ctx, query, code, pollID)
	return err
}

// UpsertParticipant inserts a roster entry, or refreshes name and join time
// when the session id is already present (rejoin).
func (r *Repository) UpsertParticipant(ctx context.Context, code, sessionID, name string) error {
	const query = `INSERT INTO participants (room_code, session_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (room_code, session_id) DO UPDATE SET name = EXCLUDED.name, joined_at = NOW()`
	_, err := r.pool.Exec(ctx, query, code, sessionID, name)
	return err
}

// RemoveParticipant deletes a roster entry.
func (r *Repository) RemoveParticipant(ctx context.Context, code, sessionID string) error {
	const query = `DELETE FROM participants WHERE room_code = $1 AND session_id = $2`
	_, err := r.pool.Exec(ctx, query, code, sessionID)
	return err
}

// ListParticipants returns the persisted roster in join order.
func (r *Repository) ListParticipants(ctx context.Context, code string) ([]models.Participant, error) {
	const query = `SELECT session_id, name, joined_at FROM participants
		WHERE room_code = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, query, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.SessionID, &p.Name, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}
