package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

var ErrLockNotHeld = apperrors.New(apperrors.ErrCodeValidation, "lock not held by this owner")

// unlockScript deletes the lock only when still owned by the caller.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Mutex is a best-effort distributed lock used to elect a single sweeper
// across worker replicas. It is not fencing-safe; the guarded work (deleting
// expired entries) is idempotent, so a rare double-sweep is harmless.
type Mutex struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
}

// NewMutex creates a lock with the given name and TTL.
func NewMutex(client *Client, name string, ttl time.Duration) *Mutex {
	return &Mutex{
		client: client,
		key:    client.fullKey("lock:" + name),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryLock attempts a non-blocking acquire.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	return m.client.Underlying().SetNX(ctx, m.key, m.value, m.ttl).Result()
}

// Unlock releases the lock if still held by this owner.
func (m *Mutex) Unlock(ctx context.Context) error {
	res, err := unlockScript.Run(ctx, m.client.Underlying(), []string{m.key}, m.value).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
