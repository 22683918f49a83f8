package polls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classpulse/backend/internal/models"
)

// ErrNotFound is returned when no poll matches the lookup.
var ErrNotFound = errors.New("poll not found")

// Repository handles poll and answer persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new poll with the given status and start time.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	opts, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	const query = `INSERT INTO polls (room_code, question, options, status, duration, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query, p.RoomCode, p.Question, opts, p.Status, p.Duration, p.StartedAt).
		Scan(&p.ID, &p.CreatedAt)
}

// GetByID returns a poll by ID, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const query = `SELECT id, room_code, question, options, status, duration, started_at, ended_at, created_at
		FROM polls WHERE id = $1`
	return r.scanPoll(r.pool.QueryRow(ctx, query, id))
}

// FindOpenByRoom returns the room's open poll if any, or ErrNotFound. It is
// the defensive scan used when the room's current-poll pointer is stale.
func (r *Repository) FindOpenByRoom(ctx context.Context, roomCode string) (*models.Poll, error) {
	const query = `SELECT id, room_code, question, options, status, duration, started_at, ended_at, created_at
		FROM polls WHERE room_code = $1 AND status = 'open'
		ORDER BY started_at DESC LIMIT 1`
	return r.scanPoll(r.pool.QueryRow(ctx, query, roomCode))
}

// CloseIfOpen marks a poll closed and returns its end timestamp. The
// conditional update is the de-duplication guard: when the poll is already
// closed no row matches and closed is false.
func (r *Repository) CloseIfOpen(ctx context.Context, id uuid.UUID) (endedAt time.Time, closed bool, err error) {
	const query = `UPDATE polls SET status = 'closed', ended_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING ended_at`
	err = r.pool.QueryRow(ctx, query, id).Scan(&endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return endedAt, true, nil
}

// InsertAnswer records an answer if the session has none for this poll.
// The insert-if-absent is atomic, so two racing submissions for the same
// session cannot both succeed.
func (r *Repository) InsertAnswer(ctx context.Context, pollID uuid.UUID, sessionID, optionID string) (inserted bool, err error) {
	const query = `INSERT INTO answers (poll_id, session_id, option_id) VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, session_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, pollID, sessionID, optionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Tallies returns per-option answer counts. Options with no answers are
// absent; callers merge with the poll's option list.
func (r *Repository) Tallies(ctx context.Context, pollID uuid.UUID) ([]models.Tally, error) {
	const query = `SELECT option_id, COUNT(*) FROM answers WHERE poll_id = $1 GROUP BY option_id`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tallies []models.Tally
	for rows.Next() {
		var t models.Tally
		if err := rows.Scan(&t.ID, &t.Votes); err != nil {
			return nil, err
		}
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}

// CountAnswers returns the number of recorded answers for a poll.
func (r *Repository) CountAnswers(ctx context.Context, pollID uuid.UUID) (int, error) {
	const query = `SELECT COUNT(*) FROM answers WHERE poll_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, query, pollID).Scan(&n)
	return n, err
}

// AnsweredSessions returns the set of session ids with a recorded answer.
func (r *Repository) AnsweredSessions(ctx context.Context, pollID uuid.UUID) (map[string]struct{}, error) {
	const query = `SELECT session_id FROM answers WHERE poll_id = $1`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answered := make(map[string]struct{})
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		answered[sid] = struct{}{}
	}
	return answered, rows.Err()
}

// ListByRoom returns a room's polls, newest first, with tallies applied.
func (r *Repository) ListByRoom(ctx context.Context, roomCode string) ([]models.Poll, error) {
	const query = `SELECT id, room_code, question, options, status, duration, started_at, ended_at, created_at
		FROM polls WHERE room_code = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, roomCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	polls := make([]models.Poll, 0)
	for rows.Next() {
		p, err := r.scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range polls {
		tallies, err := r.Tallies(ctx, polls[i].ID)
		if err != nil {
			return nil, err
		}
		polls[i].ApplyTallies(tallies)
	}
	return polls, nil
}

func (r *Repository) scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	var opts []byte
	err := row.Scan(&p.ID, &p.RoomCode, &p.Question, &opts, &p.Status, &p.Duration, &p.StartedAt, &p.EndedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opts, &p.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	return &p, nil
}
