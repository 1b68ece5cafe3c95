package bulletin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the bulletin.
// It is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a bulletin client for the given instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Dial parses a redis:// URL and creates a client.
func Dial(redisURL, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewClient(opts, instanceName)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Redis exposes the underlying connection, e.g. for a context source reading
// from the same server.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// PublishReconfiguration stores r as the latest reconfiguration and
// publishes it on the reconfiguration channel.
func (c *Client) PublishReconfiguration(ctx context.Context, r *Reconfiguration) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reconfiguration: %w", err)
	}

	hash, err := ReconfigurationToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize reconfiguration: %w", err)
	}
	return c.store(ctx, ConfigKey(c.instanceName), ReconfigEventsChannel(c.instanceName), HistoryKey(c.instanceName), hash, r, r.CreatedAtMs)
}

// LatestReconfiguration returns the most recently published reconfiguration.
// Returns redis.Nil if none was published; use IsNotFound to check.
func (c *Client) LatestReconfiguration(ctx context.Context) (*Reconfiguration, error) {
	hash, err := c.load(ctx, ConfigKey(c.instanceName))
	if err != nil {
		return nil, err
	}
	return HashToReconfiguration(hash)
}

// PublishDivergence stores d as the latest divergence and publishes it.
func (c *Client) PublishDivergence(ctx context.Context, d *Divergence) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid divergence: %w", err)
	}

	hash, err := DivergenceToHash(d)
	if err != nil {
		return fmt.Errorf("failed to serialize divergence: %w", err)
	}
	return c.store(ctx, DivergenceKey(c.instanceName), DivergenceEventsChannel(c.instanceName), "", hash, d, d.CreatedAtMs)
}

// LatestDivergence returns the most recently published divergence.
// Returns redis.Nil if none was published.
func (c *Client) LatestDivergence(ctx context.Context) (*Divergence, error) {
	hash, err := c.load(ctx, DivergenceKey(c.instanceName))
	if err != nil {
		return nil, err
	}
	return HashToDivergence(hash)
}

// store replaces the hash at key and publishes record on channel. If
// history is set, record is also appended to that sorted set, scored by
// creation time.
func (c *Client) store(ctx context.Context, key, channel, history string, hash map[string]interface{}, record interface{}, createdAtMs int64) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, hash)
	if history != "" {
		pipe.ZAdd(ctx, history, redis.Z{Score: float64(createdAtMs), Member: string(payload)})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// History returns reconfigurations created within [sinceMs, untilMs], oldest
// first. Zero means no bound on that side.
func (c *Client) History(ctx context.Context, sinceMs, untilMs int64) ([]*Reconfiguration, error) {
	lo, hi := "-inf", "+inf"
	if sinceMs > 0 {
		lo = strconv.FormatInt(sinceMs, 10)
	}
	if untilMs > 0 {
		hi = strconv.FormatInt(untilMs, 10)
	}

	members, err := c.rdb.ZRangeByScore(ctx, HistoryKey(c.instanceName), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	history := make([]*Reconfiguration, 0, len(members))
	for _, m := range members {
		var r Reconfiguration
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}
		history = append(history, &r)
	}
	return history, nil
}

func (c *Client) load(ctx context.Context, key string) (map[string]string, error) {
	hash, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return hash, nil
}

// Subscription is an active Pub/Sub subscription delivering decoded records.
// Caller must call Close when done; cancelling the context also stops it.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of records. It is closed when the subscription ends.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of decoding errors. Undecodable messages are
// skipped and the subscription continues.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeReconfigurations delivers every reconfiguration published for
// this instance. Delivery is at-most-once.
func (c *Client) SubscribeReconfigurations(ctx context.Context) (*Subscription[Reconfiguration], error) {
	return subscribe[Reconfiguration](ctx, c.rdb, ReconfigEventsChannel(c.instanceName))
}

// SubscribeDivergences delivers every divergence published for this instance.
func (c *Client) SubscribeDivergences(ctx context.Context) (*Subscription[Divergence], error) {
	return subscribe[Divergence](ctx, c.rdb, DivergenceEventsChannel(c.instanceName))
}

func subscribe[T any](ctx context.Context, rdb *redis.Client, channel string) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no early publish is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var record T
				if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event on %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &record:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound reports whether err means no record was published yet.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
