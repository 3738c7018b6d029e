// Package redis mirrors participant presence into Redis so other services can
// see who is reachable without talking to the signaling process.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

// PresenceMirror stores presence:<identity> keys with a TTL plus a set of online identities.
type PresenceMirror struct {
	client *goredis.Client
	ttl    time.Duration
}

// New connects to Redis. The connection is lazy; call Ping to check it.
func New(addr, password string, db int, ttl time.Duration) *PresenceMirror {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client, ttl)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration) *PresenceMirror {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceMirror{client: client, ttl: ttl}
}

func presenceKey(identity string) string {
	return fmt.Sprintf("presence:%s", identity)
}

// Ping checks connectivity.
func (m *PresenceMirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// SetOnline marks identity as reachable through connID. Calling it again refreshes the TTL.
func (m *PresenceMirror) SetOnline(ctx context.Context, identity, connID string) error {
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, presenceKey(identity), connID, m.ttl)
	pipe.SAdd(ctx, onlineSetKey, identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// SetOffline removes identity.
func (m *PresenceMirror) SetOffline(ctx context.Context, identity string) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, presenceKey(identity))
	pipe.SRem(ctx, onlineSetKey, identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set offline: %w", err)
	}
	return nil
}

// IsOnline reports whether identity has an unexpired presence key.
func (m *PresenceMirror) IsOnline(ctx context.Context, identity string) (bool, error) {
	n, err := m.client.Exists(ctx, presenceKey(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return n > 0, nil
}

// Online lists identities in the online set whose presence key is still alive.
// Members whose key expired are pruned from the set.
func (m *PresenceMirror) Online(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	out := make([]string, 0, len(members))
	for _, identity := range members {
		alive, err := m.IsOnline(ctx, identity)
		if err != nil {
			return nil, err
		}
		if !alive {
			m.client.SRem(ctx, onlineSetKey, identity)
			continue
		}
		out = append(out, identity)
	}
	return out, nil
}

// Close releases the client.
func (m *PresenceMirror) Close() error {
	return m.client.Close()
}
