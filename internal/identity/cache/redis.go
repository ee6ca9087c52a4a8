// Package cache provides a Redis-backed persona cache. Personas never change
// once generated, so entries carry no TTL; a cache miss simply falls through
// to the store.
package cache

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"vouch/internal/platform/redis"
	id "vouch/pkg/domain"
)

const personaKeyPrefix = "persona:"

type PersonaCache struct {
	client *redis.Client
}

func NewPersonaCache(client *redis.Client) *PersonaCache {
	return &PersonaCache{client: client}
}

func key(userID id.UserID, communityID id.CommunityID) string {
	return fmt.Sprintf("%s%s:%s", personaKeyPrefix, communityID.String(), userID.String())
}

// Get returns the cached display name, or ok=false on a miss. Redis errors
// degrade to a miss; the cache is never load-bearing.
func (c *PersonaCache) Get(ctx context.Context, userID id.UserID, communityID id.CommunityID) (string, bool) {
	name, err := c.client.Get(ctx, key(userID, communityID)).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			// Degrade silently; the store remains authoritative.
			return "", false
		}
		return "", false
	}
	return name, true
}

// Set caches the display name.
func (c *PersonaCache) Set(ctx context.Context, userID id.UserID, communityID id.CommunityID, displayName string) {
	_ = c.client.Set(ctx, key(userID, communityID), displayName, 0).Err()
}
