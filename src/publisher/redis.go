package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stock-exchange/src/engine"
)

var ErrNoTrades = errors.New("no trades cached for symbol")

// RedisCache keeps the last trade per symbol in a hash and a short
// newest-first history list for market-data readers.
type RedisCache struct {
	client  *redis.Client
	history int64
}

func NewRedisCache(addr string, history int64) *RedisCache {
	return newRedisCache(redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}), history)
}

func newRedisCache(client *redis.Client, history int64) *RedisCache {
	if history <= 0 {
		history = 100
	}
	return &RedisCache{client: client, history: history}
}

func lastTradeKey(symbol string) string { return "last_trade:" + symbol }

func historyKey(symbol string) string { return "trades:" + symbol }

func (c *RedisCache) HandleTrade(ctx context.Context, trade engine.Trade) error {
	rec := NewTradeRecord(trade)
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, lastTradeKey(trade.Symbol),
		"trade_id", rec.TradeID,
		"price", rec.Price.String(),
		"quantity", rec.Quantity,
		"executed_at", rec.ExecutedAt.Format(time.RFC3339Nano),
	)
	pipe.LPush(ctx, historyKey(trade.Symbol), encoded)
	pipe.LTrim(ctx, historyKey(trade.Symbol), 0, c.history-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis cache trade %s: %w", trade.ID, err)
	}
	return nil
}

// LastTrade returns the cached last-trade hash, or ErrNoTrades when the
// symbol has not traded since the cache was populated.
func (c *RedisCache) LastTrade(ctx context.Context, symbol string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, lastTradeKey(symbol)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNoTrades
	}
	return fields, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
