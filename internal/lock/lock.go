package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"intraday/internal/errors"
	"intraday/pkg/exception"
)

// Locker guards a cycle. TryAcquire never blocks; a busy lock returns
// exception.ErrCycleInFlight.
type Locker interface {
	TryAcquire(ctx context.Context) (Release, error)
}

// Release frees a held lock.
type Release func(ctx context.Context) error

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process lock.
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire takes the lock if it is free.
func (l *Local) TryAcquire(context.Context) (Release, error) {
	if !l.mu.TryLock() {
		return nil, exception.ErrCycleInFlight
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis is a lease held in redis so several processes share one cycle lock.
type Redis struct {
	client  redis.UniversalClient
	key     string
	ttl     time.Duration
	release *redis.Script
}

// NewRedis creates a redis lease. ttl bounds how long a crashed holder blocks others.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = "intraday:cycle"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{
		client:  client,
		key:     key,
		ttl:     ttl,
		release: redis.NewScript(releaseScript),
	}
}

// TryAcquire sets the lease key if it does not exist.
func (r *Redis) TryAcquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquire lease")
	}
	if !ok {
		return nil, exception.ErrCycleInFlight
	}
	return func(ctx context.Context) error {
		n, err := r.release.Run(ctx, r.client, []string{r.key}, token).Int()
		if err != nil {
			return errors.Wrap(err, "release lease")
		}
		if n == 0 {
			return exception.ErrLockNotHeld
		}
		return nil
	}, nil
}
