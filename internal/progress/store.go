package progress

import (
	"context"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	hashKey = "practice:progress"

	// updateChannel carries slug:percent notifications so every open view
	// of the catalog converges without polling.
	updateChannel = "practice:progress:updates"
)

// Store keeps per-session completion percentages in a single redis hash.
// Percent is always clamped to [0,100] and rounded to the nearest integer
// on write, so readers never see out-of-range values.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func clampPercent(percent float64) int {
	rounded := int(math.Round(percent))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func (s *Store) Set(ctx context.Context, slug string, percent float64) (int, error) {
	value := clampPercent(percent)
	if err := s.redis.HSet(ctx, hashKey, slug, value).Err(); err != nil {
		return 0, err
	}

	s.redis.Publish(ctx, updateChannel, slug+":"+strconv.Itoa(value))
	return value, nil
}

// Get returns the stored percentage, or 0 for sessions never practiced.
func (s *Store) Get(ctx context.Context, slug string) (int, error) {
	value, err := s.redis.HGet(ctx, hashKey, slug).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

func (s *Store) All(ctx context.Context) (map[string]int, error) {
	raw, err := s.redis.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(raw))
	for slug, value := range raw {
		percent, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		out[slug] = percent
	}
	return out, nil
}

// Subscribe returns the pubsub feed of progress updates, one
// "slug:percent" payload per write.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.redis.Subscribe(ctx, updateChannel)
}
