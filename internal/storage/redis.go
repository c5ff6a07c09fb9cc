package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/neurotrader/internal/models"
)

const journalKey = "neuro_trader_trades"

// Redis stores blobs as plain string keys and the trade journal as a capped list.
type Redis struct {
	client     *redis.Client
	prefix     string
	maxJournal int
}

var _ Store = (*Redis)(nil)

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(maxJournal int, addr, password string, db int, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, prefix: prefix, maxJournal: maxJournal}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) wrapKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.wrapKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.wrapKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.wrapKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// AddTrade pushes the decision to the head of the journal list and trims the tail.
func (r *Redis) AddTrade(ctx context.Context, d *models.Decision) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}
	if d.Result == nil {
		return fmt.Errorf("decision %s has not been evaluated", d.ID)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	key := r.wrapKey(journalKey)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.maxJournal-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis journal push: %w", err)
	}
	return nil
}

// RecentTrades returns up to k journaled trades, newest first.
func (r *Redis) RecentTrades(ctx context.Context, k int) ([]models.Decision, error) {
	if k <= 0 {
		return []models.Decision{}, nil
	}
	items, err := r.client.LRange(ctx, r.wrapKey(journalKey), 0, int64(k-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis journal range: %w", err)
	}
	trades := make([]models.Decision, 0, len(items))
	for _, item := range items {
		var d models.Decision
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, d)
	}
	return trades, nil
}

func (r *Redis) ClearTrades(ctx context.Context) error {
	return r.Delete(ctx, journalKey)
}
