package mutex

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquirePoll is the backoff between SET NX attempts while waiting for a
// distributed lock.
const acquirePoll = 50 * time.Millisecond

// releaseScript deletes the lock key only if it still holds this mutex's
// token, so a lock already reclaimed by expiry (and possibly re-acquired by
// another holder) is never released out from under its new owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// redisMutex is a distributed lock built on SET NX EX. Each handle carries
// a random holder token; the server-side TTL bounds how long a crashed
// holder can block others.
type redisMutex struct {
	client   redis.UniversalClient
	key      string
	lockTTL  time.Duration
	token    string
	acquired bool
}

// NewRedis returns a distributed mutex for the given lock key. lockTTL is
// both the server-side expiry of the lock and the default acquire timeout.
func NewRedis(client redis.UniversalClient, key string, lockTTL time.Duration) Mutex {
	return &redisMutex{
		client:  client,
		key:     key,
		lockTTL: lockTTL,
		token:   uuid.NewString(),
	}
}

// Acquire polls SET NX until the lock is obtained or the timeout elapses.
// Redis errors degrade to "not acquired" — the caller proceeds unlocked
// rather than failing the cached operation.
func (m *redisMutex) Acquire(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = m.lockTTL
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := m.client.SetNX(ctx, m.key, m.token, m.lockTTL).Result()
		if err == nil && ok {
			m.acquired = true
			return true
		}
		if !time.Now().Add(acquirePoll).Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(acquirePoll):
		}
	}
}

func (m *redisMutex) Release(ctx context.Context) {
	if !m.acquired {
		return
	}
	m.acquired = false
	// Best effort: a failed release self-heals when the lock TTL expires.
	_ = releaseScript.Run(ctx, m.client, []string{m.key}, m.token).Err()
}
