// Package redis carries the core's outward side channels: the order-book
// snapshot cache and the pub/sub channels read by external gateways. The
// core only ever writes here; it never reads its own state back.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// KeyOrderBook caches the latest aggregated order-book snapshot.
	KeyOrderBook = "_orderbook_"
	// ChannelNotification fans out user notifications.
	ChannelNotification = "notification"
	// ChannelAPIResult fans out API results keyed by refId.
	ChannelAPIResult = "trading_api_result"
)

// updateOrderBookScript replaces the cached snapshot only when the incoming
// sequence id is newer, so a slow publisher can never roll the cache back.
var updateOrderBookScript = redis.NewScript(`
local seqKey = KEYS[1] .. ':seq'
local seq = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', seqKey) or '0')
if seq > last then
  redis.call('SET', seqKey, ARGV[1])
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// Config holds the redis connection settings.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Client wraps the redis connection behind the core's narrow write surface.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewClient connects and pings the server.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, logger: logger}, nil
}

// Publish sends v as JSON on channel.
func (c *Client) Publish(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for channel %s: %w", channel, err)
	}
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to channel %s: %w", channel, err)
	}
	return nil
}

// UpdateOrderBook stores the snapshot if sequenceID is newer than the cached
// one and reports whether the cache changed.
func (c *Client) UpdateOrderBook(ctx context.Context, sequenceID int64, snapshot []byte) (bool, error) {
	n, err := updateOrderBookScript.Run(ctx, c.rdb, []string{KeyOrderBook},
		sequenceID, string(snapshot)).Int64()
	if err != nil {
		return false, fmt.Errorf("update order book cache: %w", err)
	}
	return n == 1, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
