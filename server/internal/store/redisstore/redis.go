// Package redisstore persists alert state in Redis.
//
// Every alert is a hash under <prefix>:alert:<id> holding the encoded alert
// and its version. Open alerts are indexed in the set
// <prefix>:active:<hospital>. Resolved alerts leave the index and expire
// after the configured retention.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "wardwatch"

// persistScript writes the alert only when its version is newer than the
// stored one, and maintains the per-hospital active index.
//
// KEYS[1] alert hash, KEYS[2] hospital active set.
// ARGV: version, data, alert id, resolved flag, retention seconds.
var persistScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
if ARGV[4] == '1' then
	redis.call('SREM', KEYS[2], ARGV[3])
	if tonumber(ARGV[5]) > 0 then
		redis.call('EXPIRE', KEYS[1], ARGV[5])
	end
else
	redis.call('SADD', KEYS[2], ARGV[3])
end
return 1
`)

// Store is an alert.Store backed by Redis.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New wraps client. Resolved alerts are kept for retention; zero keeps them
// forever.
func New(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, retention: retention}
}

// Dial connects to the Redis server at addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return c, nil
}

// LoadActive returns the unresolved alerts of hospitalID.
func (s *Store) LoadActive(ctx context.Context, hospitalID string) ([]alert.Alert, error) {
	ids, err := s.client.SMembers(ctx, s.activeKey(hospitalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load active %s: %w", hospitalID, err)
	}
	if len(ids) == 0 {
		return []alert.Alert{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.alertKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: load active %s: %w", hospitalID, err)
	}

	out := make([]alert.Alert, 0, len(ids))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			// Index entry without a hash; the hash expired or was removed.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: read alert %s: %w", ids[i], err)
		}
		var a alert.Alert
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("redis: decode alert %s: %w", ids[i], err)
		}
		if a.Open() {
			out = append(out, a)
		}
	}
	return out, nil
}

// Persist writes a unless the stored copy has the same or a newer version.
func (s *Store) Persist(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: encode alert %s: %w", a.ID, err)
	}
	resolved := "0"
	if !a.Open() {
		resolved = "1"
	}
	keys := []string{s.alertKey(a.ID), s.activeKey(a.HospitalID)}
	args := []interface{}{a.Version, data, a.ID, resolved, int64(s.retention / time.Second)}
	if err := persistScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: persist %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) alertKey(id string) string { return s.prefix + ":alert:" + id }

func (s *Store) activeKey(hospitalID string) string { return s.prefix + ":active:" + hospitalID }
