// Package redis provides Redis-based adapters for schoolgate.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/ports"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces registry keys.
	DefaultPrefix = "session:"
	// DefaultTTL applies to sessions that carry no expiry of their own.
	DefaultTTL = 60 * time.Minute

	scanBatch = 200
)

var _ ports.SessionStore = (*SessionStore)(nil)

// SessionStore is the server-side token registry. Each issued token is stored
// under prefix+token with a TTL derived from the session's ExpiresAt.
type SessionStore struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

// StoreOptions customizes a SessionStore. Zero values select defaults.
type StoreOptions struct {
	Prefix     string
	DefaultTTL time.Duration
	Now        func() time.Time
}

// NewSessionStore creates a token registry with default options.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return NewSessionStoreWithOptions(client, StoreOptions{})
}

// NewSessionStoreWithOptions creates a token registry with custom options.
func NewSessionStoreWithOptions(client redis.UniversalClient, opts StoreOptions) *SessionStore {
	s := &SessionStore{
		client:     client,
		prefix:     opts.Prefix,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Save registers sess under its token.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	sess = sess.Normalize()
	if !sess.HasToken() {
		return errors.New("session token cannot be empty")
	}

	ttl := s.defaultTTL
	if sess.ExpiresAt != nil {
		ttl = sess.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return errors.New("session is expired")
		}
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+sess.Token, data, ttl).Err()
}

// Get returns the registered session for token, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, token string) (domainauth.Session, error) {
	if token == "" {
		return domainauth.Session{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	sess, err := decode(data)
	if err != nil {
		return domainauth.Session{}, err
	}

	// Redis expiry has second granularity; the registry must not outlive ExpiresAt.
	if domainauth.Evaluate(sess, s.now()) != domainauth.Authenticated {
		if delErr := s.Delete(ctx, token); delErr != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", delErr)
		}
		return domainauth.Session{}, ErrNotFound
	}
	return sess, nil
}

// Delete removes token from the registry. Deleting an unknown token is not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+token).Err()
}

// List returns every live registered session ordered by username then token.
func (s *SessionStore) List(ctx context.Context) ([]domainauth.Session, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]domainauth.Session, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		sess, decErr := decode([]byte(str))
		if decErr != nil {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

// Count returns the number of registered tokens.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteByUser revokes every token issued to userID and reports how many were removed.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	sessions, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, sess := range sessions {
		if sess.UserID == userID {
			keys = append(keys, s.prefix+sess.Token)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

func (s *SessionStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func decode(data []byte) (domainauth.Session, error) {
	var sess domainauth.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess.Normalize(), nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "session not found" }

func (notFoundError) Is(target error) bool { return target == ports.ErrSessionNotFound }

// ErrNotFound is returned when a token is not registered. It matches ports.ErrSessionNotFound.
var ErrNotFound error = notFoundError{}
