package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"livequiz/internal/domain"
)

// SessionStore keeps one JSON document per session under quiz:session:{code}.
// Writes are conditional on the stored version via WATCH/MULTI, so concurrent
// instances sharing the same Redis cannot lose each other's updates.
//
// Live sessions expire after idleTTL without writes; terminal sessions are
// kept for retention so results stay readable for a while.
type SessionStore struct {
	client    *redis.Client
	idleTTL   time.Duration
	retention time.Duration
}

func NewSessionStore(client *redis.Client, idleTTL, retention time.Duration) *SessionStore {
	return &SessionStore{
		client:    client,
		idleTTL:   idleTTL,
		retention: retention,
	}
}

func (s *SessionStore) Get(ctx context.Context, code string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session %s: %w", code, err)
	}
	return decodeSession(raw)
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(session.Code), payload, s.ttlFor(session)).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.Code, err)
	}
	if !ok {
		return domain.ErrSessionExists
	}
	return nil
}

func (s *SessionStore) CompareAndSwap(ctx context.Context, session domain.Session, expectedVersion int64) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := s.key(session.Code)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttlFor(session))
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone wrote between WATCH and EXEC.
		return domain.ErrVersionConflict
	}
	var de *domain.Error
	if err != nil && !errors.As(err, &de) {
		return fmt.Errorf("write session %s: %w", session.Code, err)
	}
	return err
}

func (s *SessionStore) ttlFor(session domain.Session) time.Duration {
	if session.Status.Terminal() {
		return s.retention
	}
	return s.idleTTL
}

func (s *SessionStore) key(code string) string {
	return "quiz:session:" + code
}

func decodeSession(raw []byte) (domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}
