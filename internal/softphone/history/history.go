// Package history keeps the agent's call log in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sebas/agentphone/internal/softphone/session"
)

// Call statuses stored in the log.
const (
	StatusActive     = "active"
	StatusCompleted  = "completed"
	StatusMissed     = "missed"
	StatusUnanswered = "unanswered"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// ErrInvalidFilter is returned for filter values the log cannot match.
var ErrInvalidFilter = errors.New("invalid filter")

// Record is one row of the call log.
type Record struct {
	ID           string            `json:"id"`
	Direction    session.Direction `json:"direction"`
	FromNumber   string            `json:"from_number"`
	ToNumber     string            `json:"to_number"`
	Status       string            `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	HasVoicemail bool              `json:"has_voicemail"`
	CreatedAt    time.Time         `json:"created_at"`
	AnsweredAt   time.Time         `json:"answered_at,omitzero"`
	EndedAt      time.Time         `json:"ended_at,omitzero"`
	TalkSeconds  int               `json:"talk_seconds"`
}

// Filter selects a page of the log. Zero values match everything.
type Filter struct {
	Direction string
	Status    string
	Query     string // substring of either number, direction or reason
	Page      int    // 1-based
	PageSize  int
}

// Page is one page of List results.
type Page struct {
	Calls    []Record `json:"calls"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// Stats are the dashboard counters.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Missed    int `json:"missed"`
	Voicemail int `json:"voicemail"`
	Active    int `json:"active"`
}

// Store is the SQLite-backed call log.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the log at path. ":memory:" works for
// throwaway logs.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			from_number TEXT NOT NULL,
			to_number TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			has_voicemail INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			answered_at INTEGER NOT NULL DEFAULT 0,
			ended_at INTEGER NOT NULL DEFAULT 0,
			talk_seconds INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_calls_created ON calls(created_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StatusFor derives the log status of an ended call.
func StatusFor(c session.EndedCall) string {
	switch {
	case c.Answered():
		return StatusCompleted
	case c.Direction == session.DirectionInbound:
		return StatusMissed
	default:
		return StatusUnanswered
	}
}

// MarkActive inserts or updates the row of a call that just connected.
func (s *Store) MarkActive(ctx context.Context, st session.CallState, answeredAt time.Time) error {
	if st.CallID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, direction, from_number, to_number, status, created_at, answered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, answered_at = excluded.answered_at
	`, st.CallID, string(st.Direction), st.From, st.To, StatusActive, answeredAt.UnixMilli(), answeredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("mark call active: %w", err)
	}
	return nil
}

// Record writes the final row for an ended call.
func (s *Store) Record(ctx context.Context, c session.EndedCall) error {
	status := StatusFor(c)
	// Unanswered inbound calls that rang out are taken to voicemail by the PBX.
	voicemail := status == StatusMissed && c.Reason == session.ReasonTimeout

	var answered int64
	if c.Answered() {
		answered = c.AnsweredAt.UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, direction, from_number, to_number, status, reason, has_voicemail, created_at, answered_at, ended_at, talk_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			has_voicemail = excluded.has_voicemail,
			created_at = excluded.created_at,
			answered_at = excluded.answered_at,
			ended_at = excluded.ended_at,
			talk_seconds = excluded.talk_seconds
	`, c.ID, string(c.Direction), c.From, c.To, status, string(c.Reason), boolInt(voicemail),
		c.CreatedAt.UnixMilli(), answered, c.EndedAt.UnixMilli(), c.TalkSeconds)
	if err != nil {
		return fmt.Errorf("record call %s: %w", c.ID, err)
	}
	return nil
}

// likeEscaper makes user input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List returns one page of the log, newest first.
func (s *Store) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Direction != "" && f.Direction != string(session.DirectionInbound) && f.Direction != string(session.DirectionOutbound) {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidFilter, f.Direction)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	var where []string
	var args []any
	if f.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, f.Direction)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(strings.ToLower(f.Query)); q != "" {
		where = append(where, `(lower(from_number) LIKE ? ESCAPE '\' OR lower(to_number) LIKE ? ESCAPE '\' OR direction LIKE ? ESCAPE '\' OR reason LIKE ? ESCAPE '\')`)
		like := "%" + likeEscaper.Replace(q) + "%"
		args = append(args, like, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := &Page{Page: f.Page, PageSize: f.PageSize, Calls: []Record{}}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls"+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count calls: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, from_number, to_number, status, reason, has_voicemail, created_at, answered_at, ended_at, talk_seconds
		FROM calls`+clause+`
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`,
		append(args, f.PageSize, (f.Page-1)*f.PageSize)...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		var direction string
		var voicemail int
		var created, answered, ended int64
		if err := rows.Scan(&r.ID, &direction, &r.FromNumber, &r.ToNumber, &r.Status, &r.Reason,
			&voicemail, &created, &answered, &ended, &r.TalkSeconds); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		r.Direction = session.Direction(direction)
		r.HasVoicemail = voicemail != 0
		r.CreatedAt = fromMillis(created)
		r.AnsweredAt = fromMillis(answered)
		r.EndedAt = fromMillis(ended)
		page.Calls = append(page.Calls, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return page, nil
}

// Stats returns the dashboard counters over the whole log.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(has_voicemail), 0),
			COALESCE(SUM(status = ?), 0)
		FROM calls
	`, StatusCompleted, StatusMissed, StatusActive).Scan(&st.Total, &st.Completed, &st.Missed, &st.Voicemail, &st.Active)
	if err != nil {
		return Stats{}, fmt.Errorf("call stats: %w", err)
	}
	return st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
