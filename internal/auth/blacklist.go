package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist tracks revoked access tokens by their jti until natural
// expiry, backed by Redis per spec §6's REDIS_URL. A token present in the
// blacklist is rejected even if its signature and expiry are otherwise valid.
type Blacklist struct {
	client *redis.Client
}

func NewBlacklist(redisURL string) (*Blacklist, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Blacklist{client: redis.NewClient(opts)}, nil
}

const blacklistKeyPrefix = "pricelake:blacklist:"

// Add blacklists jti for ttl, matching the token's own remaining lifetime
// so the key expires naturally once the token would anyway.
func (b *Blacklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	return b.client.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err()
}

// IsBlacklisted reports whether jti has been revoked.
func (b *Blacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Blacklist) Close() error {
	return b.client.Close()
}
