// Package sessionstore persists import session snapshots in Redis so a
// session survives restarts and can be served by any instance.
//
// Each session uses three keys under the prefix:
//
//	<prefix>:session:<id>      JSON snapshot
//	<prefix>:session:<id>:rev  revision of the stored snapshot
//	<prefix>:lock:<id>         mutation lock holding the owner's token
//
// Instances compare the revision key against their cached copy on every
// access and take the lock with SET NX before mutating, so a session is
// changed by one instance at a time and never committed twice.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "catalogimport"

// Redis is a core.SnapshotStore backed by Redis string keys holding JSON.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a snapshot store. An empty prefix uses DefaultPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

func (r *Redis) revKey(id string) string {
	return r.key(id) + ":rev"
}

func (r *Redis) lockKey(id string) string {
	return fmt.Sprintf("%s:lock:%s", r.prefix, id)
}

// Save writes snap and its revision and resets their expiry to ttl.
func (r *Redis) Save(ctx context.Context, snap *core.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(snap.ID), data, ttl)
		pipe.Set(ctx, r.revKey(snap.ID), snap.Revision, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", snap.ID, err)
	}
	return nil
}

// Touch resets the expiry of id to ttl and returns the stored revision.
func (r *Redis) Touch(ctx context.Context, id string, ttl time.Duration) (int64, error) {
	var rev *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rev = pipe.Get(ctx, r.revKey(id))
		pipe.Expire(ctx, r.key(id), ttl)
		pipe.Expire(ctx, r.revKey(id), ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis touch %s: %w", id, err)
	}

	n, err := rev.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, core.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis revision %s: %w", id, err)
	}
	return n, nil
}

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock claims the mutation lock for id until unlock is called or ttl passes.
// It returns core.ErrSessionBusy when another holder has the lock.
func (r *Redis) Lock(ctx context.Context, id string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.lockKey(id), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", id, err)
	}
	if !ok {
		return nil, core.ErrSessionBusy
	}

	return func() {
		err := unlockScript.Run(context.WithoutCancel(ctx), r.client, []string{r.lockKey(id)}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			slog.Warn("failed to release session lock", "import_id", id, "error", err)
		}
	}, nil
}

// Load returns the snapshot for id, or core.ErrSessionNotFound.
func (r *Redis) Load(ctx context.Context, id string) (*core.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// Delete removes the snapshot for id. Deleting a missing id is not an error.
func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id), r.revKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
