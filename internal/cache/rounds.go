package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"casino/internal/crash"
)

const (
	REDIS_KEY_ROUND   = "crash:round:"
	REDIS_KEY_HISTORY = "crash:history"

	ROUND_TTL = 24 * time.Hour
)

// RoundCache keeps settled rounds and the recent history list in Redis so
// a restarted service can warm its history and serve verification lookups.
type RoundCache struct {
	client      *redis.Client
	historySize int
	ttl         time.Duration
}

func NewRoundCache(client *redis.Client, historySize int, ttl time.Duration) *RoundCache {
	if historySize <= 0 {
		historySize = crash.DEFAULT_HISTORY_SIZE
	}
	if ttl <= 0 {
		ttl = ROUND_TTL
	}
	return &RoundCache{client: client, historySize: historySize, ttl: ttl}
}

// Archive stores the round and pushes its history entry in one transaction.
func (c *RoundCache) Archive(ctx context.Context, round crash.SettledRound) error {
	roundJSON, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round %s: %w", round.RoundID, err)
	}
	entryJSON, err := json.Marshal(round.HistoryEntry())
	if err != nil {
		return fmt.Errorf("marshal history entry %s: %w", round.RoundID, err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, REDIS_KEY_ROUND+round.RoundID, roundJSON, c.ttl)
	pipe.LPush(ctx, REDIS_KEY_HISTORY, entryJSON)
	pipe.LTrim(ctx, REDIS_KEY_HISTORY, 0, int64(c.historySize-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache round %s: %w", round.RoundID, err)
	}
	return nil
}

// RecentHistory returns up to limit entries, newest first.
func (c *RoundCache) RecentHistory(ctx context.Context, limit int) ([]crash.HistoryEntry, error) {
	if limit <= 0 {
		return []crash.HistoryEntry{}, nil
	}
	raw, err := c.client.LRange(ctx, REDIS_KEY_HISTORY, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	entries := make([]crash.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry crash.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			log.Printf("[CACHE] Skipping corrupt history entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *RoundCache) FindRound(ctx context.Context, roundID string) (crash.SettledRound, error) {
	raw, err := c.client.Get(ctx, REDIS_KEY_ROUND+roundID).Bytes()
	if errors.Is(err, redis.Nil) {
		return crash.SettledRound{}, crash.ErrRoundNotFound
	}
	if err != nil {
		return crash.SettledRound{}, fmt.Errorf("get round %s: %w", roundID, err)
	}

	var round crash.SettledRound
	if err := json.Unmarshal(raw, &round); err != nil {
		return crash.SettledRound{}, fmt.Errorf("decode round %s: %w", roundID, err)
	}
	return round, nil
}
