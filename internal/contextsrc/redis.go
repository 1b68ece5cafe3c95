package contextsrc

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis reads the context from a Redis hash. Each field is one context
// variable; values are typed with ParseValue.
type Redis struct {
	rdb redis.Cmdable
	key string
}

// NewRedis reads the hash stored at key.
func NewRedis(rdb redis.Cmdable, key string) *Redis {
	return &Redis{rdb: rdb, key: key}
}

func (r *Redis) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read context hash %s: %w", r.key, err)
	}

	vars := make(map[string]interface{}, len(fields))
	for name, raw := range fields {
		vars[name] = ParseValue(raw)
	}
	return vars, nil
}

// Set writes one context variable. It is how sensors and tests feed the
// hash.
func (r *Redis) Set(ctx context.Context, name string, value interface{}) error {
	if err := r.rdb.HSet(ctx, r.key, name, fmt.Sprint(value)).Err(); err != nil {
		return fmt.Errorf("failed to write context variable %s: %w", name, err)
	}
	return nil
}
