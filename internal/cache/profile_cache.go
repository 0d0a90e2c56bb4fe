package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mentorship-chat/internal/repositories"
)

const keyPrefix = "profile:name:"

// ProfileDirectory resolves sender ids to display names, reading through
// Redis to the profiles table. A nil Redis client disables caching.
type ProfileDirectory struct {
	rdb      *redis.Client
	profiles repositories.ProfileRepository
	ttl      time.Duration
	log      *zap.Logger
}

// NewProfileDirectory constructs a ProfileDirectory.
func NewProfileDirectory(rdb *redis.Client, profiles repositories.ProfileRepository, ttl time.Duration, log *zap.Logger) *ProfileDirectory {
	return &ProfileDirectory{rdb: rdb, profiles: profiles, ttl: ttl, log: log}
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// DisplayNames returns the names it could resolve; unknown ids are absent.
// Cache failures fall back to the database.
func (d *ProfileDirectory) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	missing := ids
	if d.rdb != nil {
		missing = d.fromCache(ctx, ids, names)
	}
	if len(missing) == 0 {
		return names, nil
	}

	profiles, err := d.profiles.BulkProfiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.Name
		fresh[p.ID] = p.Name
	}
	if d.rdb != nil && len(fresh) > 0 {
		d.store(ctx, fresh)
	}
	return names, nil
}

func (d *ProfileDirectory) fromCache(ctx context.Context, ids []string, names map[string]string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}

	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		d.log.Warn("profile cache read failed", zap.Error(err))
		return ids
	}

	var missing []string
	for i, v := range vals {
		if name, ok := v.(string); ok {
			names[ids[i]] = name
			continue
		}
		missing = append(missing, ids[i])
	}
	return missing
}

func (d *ProfileDirectory) store(ctx context.Context, fresh map[string]string) {
	pipe := d.rdb.Pipeline()
	for id, name := range fresh {
		pipe.Set(ctx, keyPrefix+id, name, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Warn("profile cache write failed", zap.Error(err))
	}
}
