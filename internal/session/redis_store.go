package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON value whose TTL is the session's
// expiry, so Redis itself retires expired sessions. Token lookups go
// through small index keys carrying the same TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
	}
}

func (r *RedisStore) idKey(id string) string {
	return r.prefix + "id:" + id
}

func (r *RedisStore) tokenKey(token string) string {
	return r.prefix + "token:" + token
}

func (r *RedisStore) refreshKey(token string) string {
	return r.prefix + "refresh:" + token
}

func (r *RedisStore) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *RedisStore) Insert(ctx context.Context, s *Session) error {
	if err := validateForWrite(s); err != nil {
		return err
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	watched := []string{r.idKey(s.ID), r.tokenKey(s.SessionToken)}
	if s.RefreshToken != "" {
		watched = append(watched, r.refreshKey(s.RefreshToken))
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		taken, err := r.tokensTaken(ctx, tx, s.SessionToken, s.RefreshToken)
		if err != nil {
			return err
		}
		if taken {
			return ErrTokenCollision
		}
		exists, err := tx.Exists(ctx, r.idKey(s.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("session: duplicate id %s", s.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.idKey(s.ID), data, ttl)
			pipe.Set(ctx, r.tokenKey(s.SessionToken), s.ID, ttl)
			if s.RefreshToken != "" {
				pipe.Set(ctx, r.refreshKey(s.RefreshToken), s.ID, ttl)
			}
			pipe.SAdd(ctx, r.userKey(s.UserID), s.ID)
			return nil
		})
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrTokenCollision
	}
	return err
}

func (r *RedisStore) FindByToken(ctx context.Context, sessionToken string) (*Session, error) {
	return r.findVia(ctx, r.tokenKey(sessionToken), sessionToken)
}

func (r *RedisStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return r.findVia(ctx, r.refreshKey(refreshToken), refreshToken)
}

func (r *RedisStore) findVia(ctx context.Context, indexKey, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	id, err := r.client.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.load(ctx, r.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c getter, id string) (*Session, error) {
	val, err := c.Get(ctx, r.idKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &s, nil
}

// maxWatchRetries bounds the optimistic retry loop of Update and SetStatus.
const maxWatchRetries = 1000

// watchRetry runs fn in a WATCH transaction on keys, retrying while other
// writers invalidate the watch.
func (r *RedisStore) watchRetry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ErrStale
}

func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session: missing session id")
	}

	return r.watchRetry(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur.Status != StatusActive {
			return ErrStale
		}

		next := s.Clone()
		next.SessionToken = cur.SessionToken
		next.RefreshToken = cur.RefreshToken
		return r.write(ctx, tx, next)
	}, r.idKey(s.ID))
}

func (r *RedisStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	return r.watchRetry(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := applyStatus(cur, status, at)
		if err != nil || !changed {
			return err
		}
		return r.write(ctx, tx, cur)
	}, r.idKey(id))
}

// write stores s under its existing indexes inside tx. A session already
// past its expiry is dropped rather than extended.
func (r *RedisStore) write(ctx context.Context, tx *redis.Tx, s *Session) error {
	ttl := time.Until(s.ExpiresAt)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if ttl <= 0 {
			pipe.Del(ctx, r.idKey(s.ID), r.tokenKey(s.SessionToken))
			if s.RefreshToken != "" {
				pipe.Del(ctx, r.refreshKey(s.RefreshToken))
			}
			pipe.SRem(ctx, r.userKey(s.UserID), s.ID)
			return nil
		}
		pipe.Set(ctx, r.idKey(s.ID), data, ttl)
		return nil
	})
	return err
}

func (r *RedisStore) Rotate(ctx context.Context, s *Session, prevSessionToken, prevRefreshToken string) error {
	if err := validateForWrite(s); err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	watched := []string{
		r.idKey(s.ID),
		r.refreshKey(prevRefreshToken),
		r.tokenKey(s.SessionToken),
		r.refreshKey(s.RefreshToken),
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur.RefreshToken != prevRefreshToken || cur.Status != StatusActive {
			return ErrStale
		}
		taken, err := r.tokensTaken(ctx, tx, s.SessionToken, s.RefreshToken)
		if err != nil {
			return err
		}
		if taken {
			return ErrTokenCollision
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.tokenKey(prevSessionToken), r.refreshKey(prevRefreshToken))
			pipe.Set(ctx, r.idKey(s.ID), data, ttl)
			pipe.Set(ctx, r.tokenKey(s.SessionToken), s.ID, ttl)
			pipe.Set(ctx, r.refreshKey(s.RefreshToken), s.ID, ttl)
			return nil
		})
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	return err
}

func (r *RedisStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		s, err := r.load(ctx, r.client, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if s.Status != StatusActive {
			continue
		}
		if err := r.SetStatus(ctx, id, StatusRevoked, at); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// SweepExpired unlinks sessions that Redis has already expired from the
// per-user indexes and reports how many it removed. Expiry itself is
// handled by key TTLs.
func (r *RedisStore) SweepExpired(ctx context.Context, _ time.Time) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"user:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := r.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return n, err
		}
		for _, id := range ids {
			exists, err := r.client.Exists(ctx, r.idKey(id)).Result()
			if err != nil {
				return n, err
			}
			if exists == 0 {
				if err := r.client.SRem(ctx, userKey, id).Err(); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, iter.Err()
}

func (r *RedisStore) tokensTaken(ctx context.Context, tx *redis.Tx, sessionToken, refreshToken string) (bool, error) {
	keys := []string{r.tokenKey(sessionToken), r.refreshKey(sessionToken)}
	if refreshToken != "" {
		keys = append(keys, r.tokenKey(refreshToken), r.refreshKey(refreshToken))
	}
	n, err := tx.Exists(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
