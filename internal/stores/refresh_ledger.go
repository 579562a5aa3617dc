package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLedgerBackend = errors.New("refresh ledger backend unavailable")

// Retirement records why a refresh token can no longer be used.
type Retirement string

const (
	RetiredRotated Retirement = "rotated"
	RetiredLogout  Retirement = "logout"
)

// RefreshLedger records refresh-token jtis that have been rotated or logged
// out. Entries live as long as the token they shadow.
type RefreshLedger struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshLedger(redisClient redis.UniversalClient, prefix string) *RefreshLedger {
	if prefix == "" {
		prefix = "ga"
	}
	return &RefreshLedger{redis: redisClient, prefix: prefix + ":rt"}
}

func (l *RefreshLedger) key(jti string) string {
	return l.prefix + ":" + jti
}

// Retire records jti as retired for reason. It returns "" when this call
// retired the token, and otherwise the reason recorded first, leaving the
// entry unchanged.
func (l *RefreshLedger) Retire(ctx context.Context, jti string, reason Retirement, ttl time.Duration) (Retirement, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	key := l.key(jti)
	first, err := l.redis.SetNX(ctx, key, string(reason), ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLedgerBackend, err)
	}
	if first {
		return "", nil
	}

	prior, err := l.redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired together with its token between the two calls.
		return RetiredRotated, nil
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrLedgerBackend, err)
	case prior == string(RetiredLogout):
		return RetiredLogout, nil
	default:
		return RetiredRotated, nil
	}
}
