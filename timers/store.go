package timers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keySeparator = "--"

// compositeKey builds the flat string identity spec.md §3 mandates:
// "{topic}--{timer_id}", the separator being part of the external
// contract.
func compositeKey(topic, timerID string) string {
	return topic + keySeparator + timerID
}

// splitCompositeKey parses a composite key on the first occurrence of the
// separator, per spec.md §4.3 step 2a.
func splitCompositeKey(key string) (topic, timerID string, ok bool) {
	idx := strings.Index(key, keySeparator)
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+len(keySeparator):], true
}

// store wraps the two Redis structures the timer lives in: the timeline
// (ZSET, scored by activation epoch seconds) and the payloads map (HASH,
// field -> raw JSON). Grounded on the teacher's RedisCache wrapper
// (internal/infrastructure/cache/redis.go) — same "one small struct per
// Redis responsibility" shape; every store error is returned wrapped with
// the operation and key via %w.
type store struct {
	redis       *redis.Client
	timelineKey string
	payloadsKey string
}

func newStore(client *redis.Client, cfg Config) *store {
	return &store{
		redis:       client,
		timelineKey: cfg.TimelineKey,
		payloadsKey: cfg.PayloadsKey,
	}
}

// upsert writes the timeline score and payload for key atomically, per
// spec.md §4.3 ("issued as a single atomic multi-command batch so that an
// observer never sees one present without the other").
func (s *store) upsert(ctx context.Context, key string, activationTime float64, payload []byte) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.timelineKey, redis.Z{Score: activationTime, Member: key})
		pipe.HSet(ctx, s.payloadsKey, key, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis-timers: upsert timer %q: %w", key, err)
	}
	return nil
}

// remove atomically deletes key from both the timeline and the payloads
// map. Removing an absent key is a no-op: ZREM/HDEL on a missing member
// simply report zero removed, which is not an error.
func (s *store) remove(ctx context.Context, key string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.timelineKey, key)
		pipe.HDel(ctx, s.payloadsKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis-timers: remove timer %q: %w", key, err)
	}
	return nil
}

// dueCandidates returns up to limit composite keys whose score is <= now,
// in ascending score order (ties broken by the store's natural member
// order), per spec.md §4.3 step 1.
func (s *store) dueCandidates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := strconv.FormatFloat(nowEpochSeconds(), 'f', -1, 64)
	keys, err := s.redis.ZRangeByScore(ctx, s.timelineKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    now,
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis-timers: list due timers: %w", err)
	}
	return keys, nil
}

// payload fetches the raw JSON for key. A missing field is reported via ok
// == false, not an error — callers distinguish "absent" from "store
// failure".
func (s *store) payload(ctx context.Context, key string) (raw []byte, ok bool, err error) {
	val, err := s.redis.HGet(ctx, s.payloadsKey, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis-timers: fetch payload %q: %w", key, err)
	}
	return []byte(val), true, nil
}

// removeTimelineEntry removes only the timeline member for key, used when
// the payload is already missing and there is nothing left to clean up in
// the payloads map.
func (s *store) removeTimelineEntry(ctx context.Context, key string) error {
	if err := s.redis.ZRem(ctx, s.timelineKey, key).Err(); err != nil {
		return fmt.Errorf("redis-timers: remove timeline entry %q: %w", key, err)
	}
	return nil
}

// fetchAll returns the full timeline (score order) and the full payloads
// map, for FetchAllTimers — a diagnostic, never used on the dispatch path.
func (s *store) fetchAll(ctx context.Context) ([]string, map[string][]byte, error) {
	timelineKeys, err := s.redis.ZRange(ctx, s.timelineKey, 0, -1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis-timers: fetch timeline: %w", err)
	}

	payloadsRaw, err := s.redis.HGetAll(ctx, s.payloadsKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis-timers: fetch payloads: %w", err)
	}

	payloads := make(map[string][]byte, len(payloadsRaw))
	for k, v := range payloadsRaw {
		payloads[k] = []byte(v)
	}

	return timelineKeys, payloads, nil
}

func nowEpochSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
