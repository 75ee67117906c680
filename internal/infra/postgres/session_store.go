package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"livequiz/internal/domain"
)

// SessionStore persists sessions as one JSONB row per code. The version
// column carries the compare-and-swap token.
type SessionStore struct {
	pool      *pgxpool.Pool
	retention time.Duration
	clock     func() time.Time
}

func NewSessionStore(pool *pgxpool.Pool, retention time.Duration) *SessionStore {
	return &SessionStore{pool: pool, retention: retention, clock: time.Now}
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.Session, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sessions WHERE code=$1`, code).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.expired(session) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (code, version, status, data, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (code) DO NOTHING`,
		session.Code, session.Version, string(session.Status), string(data), session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionExists
	}
	return nil
}

func (s *SessionStore) CompareAndSwap(ctx context.Context, session domain.Session, expectedVersion int64) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET version=$3, status=$4, data=$5::jsonb, updated_at=$6
		 WHERE code=$1 AND version=$2`,
		session.Code, expectedVersion, session.Version, string(session.Status), string(data), session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE code=$1)`, session.Code).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return domain.ErrSessionNotFound
	}
	return domain.ErrVersionConflict
}

// Purge deletes terminal sessions whose retention has passed and returns how
// many rows went away.
func (s *SessionStore) Purge(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE status IN ($1, $2) AND updated_at < $3`,
		string(domain.StatusCompleted), string(domain.StatusCancelled), s.clock().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *SessionStore) expired(session domain.Session) bool {
	if s.retention <= 0 || !session.Status.Terminal() || session.EndedAt == nil {
		return false
	}
	return s.clock().After(session.EndedAt.Add(s.retention))
}
