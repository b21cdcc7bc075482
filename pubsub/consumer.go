package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/util/stopwaiter"
)

type ConsumerConfig struct {
	// Timeout of result entries written to redis by consumers.
	ResponseEntryTimeout time.Duration `koanf:"response-entry-timeout"`
	// Duration after which consumer is considered to be dead if heartbeat
	// is not updated.
	KeepAliveTimeout time.Duration `koanf:"keepalive-timeout"`
}

var DefaultConsumerConfig = ConsumerConfig{
	ResponseEntryTimeout: time.Hour,
	KeepAliveTimeout:     5 * time.Minute,
}

var TestConsumerConfig = ConsumerConfig{
	ResponseEntryTimeout: time.Minute,
	KeepAliveTimeout:     30 * time.Millisecond,
}

func ConsumerConfigAddOptions(prefix string, f *pflag.FlagSet) {
	f.Duration(prefix+".response-entry-timeout", DefaultConsumerConfig.ResponseEntryTimeout, "timeout for response entry")
	f.Duration(prefix+".keepalive-timeout", DefaultConsumerConfig.KeepAliveTimeout, "timeout after which consumer is considered inactive if heartbeat wasn't performed")
}

// Consumer implements a consumer for the redis stream.
type Consumer[Request any, Response any] struct {
	stopwaiter.StopWaiter
	id          string
	client      redis.UniversalClient
	redisStream string
	redisGroup  string
	cfg         *ConsumerConfig
}

func NewConsumer[Request any, Response any](client redis.UniversalClient, streamName string, cfg *ConsumerConfig) (*Consumer[Request, Response], error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if streamName == "" {
		return nil, fmt.Errorf("stream name cannot be empty")
	}
	return &Consumer[Request, Response]{
		id:          uuid.NewString(),
		client:      client,
		redisStream: streamName,
		redisGroup:  streamName, // There is 1-1 mapping of redis stream and consumer group.
		cfg:         cfg,
	}, nil
}

// Start starts the consumer to iteratively perform heartbeat in configured intervals.
func (c *Consumer[Request, Response]) Start(ctx context.Context) {
	c.StopWaiter.Start(ctx, c)
	c.StopWaiter.CallIteratively(
		func(ctx context.Context) time.Duration {
			c.heartBeat(ctx)
			return c.cfg.KeepAliveTimeout / 10
		},
	)
}

func (c *Consumer[Request, Response]) StopAndWait() {
	c.StopWaiter.StopAndWait()
	// The heartbeat is removed with the parent context, so producers see
	// the consumer as dead right away instead of after the entry expires.
	if ctx, err := c.StopWaiterSafe.GetParentContext(); err == nil {
		c.deleteHeartBeat(ctx)
	}
}

func (c *Consumer[Request, Response]) Id() string {
	return c.id
}

func (c *Consumer[Request, Response]) RedisClient() redis.UniversalClient {
	return c.client
}

func (c *Consumer[Request, Response]) StreamName() string {
	return c.redisStream
}

func (c *Consumer[Request, Response]) heartBeatKey() string {
	return heartBeatKey(c.id)
}

func (c *Consumer[Request, Response]) deleteHeartBeat(ctx context.Context) {
	if err := c.client.Del(ctx, c.heartBeatKey()).Err(); err != nil {
		l := log.Info
		if ctx.Err() != nil {
			l = log.Error
		}
		l("Deleting heardbeat", "consumer", c.id, "error", err)
	}
}

// heartBeat updates the heartbeat entry for itself with a timeout double
// the time producers wait before declaring a consumer dead.
func (c *Consumer[Request, Response]) heartBeat(ctx context.Context) {
	if err := c.client.Set(ctx, c.heartBeatKey(), time.Now().UnixMilli(), 2*c.cfg.KeepAliveTimeout).Err(); err != nil {
		l := log.Info
		if ctx.Err() != nil {
			l = log.Error
		}
		l("Updating heardbeat", "consumer", c.id, "error", err)
	}
}

// Consume returns at most one message from the stream, or nil if there
// is currently none to pick up.
func (c *Consumer[Request, Response]) Consume(ctx context.Context) (*Message[Request], error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.redisGroup,
		Consumer: c.id,
		// Receive only messages that were never delivered to any other consumer,
		// that is, only new messages.
		Streams: []string{c.redisStream, ">"},
		Count:   1,
		Block:   time.Millisecond, // 0 seems to block the read instead of immediately returning
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading message for consumer: %q: %w", c.id, err)
	}
	if len(res) != 1 || len(res[0].Messages) != 1 {
		return nil, fmt.Errorf("redis returned entries: %+v, for querying single message", res)
	}
	msg := res[0].Messages[0]
	log.Debug(fmt.Sprintf("Consumer: %s consuming message: %s", c.id, msg.ID))
	data, ok := (msg.Values[messageKey]).(string)
	if !ok {
		return nil, fmt.Errorf("message %v has no %q entry", msg.ID, messageKey)
	}
	var req Request
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %v, error: %w", msg.ID, err)
	}
	return &Message[Request]{
		ID:    msg.ID,
		Value: req,
	}, nil
}

// SetResult writes the response under the message's result key and acks
// the message, resolving the promise the producer holds for it.
func (c *Consumer[Request, Response]) SetResult(ctx context.Context, messageID string, result Response) error {
	resp, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	acquired, err := c.client.SetNX(ctx, ResultKeyFor(c.redisStream, messageID), resp, c.cfg.ResponseEntryTimeout).Result()
	if err != nil || !acquired {
		return fmt.Errorf("setting result for message: %v, error: %w", messageID, err)
	}
	if _, err := c.client.XAck(ctx, c.redisStream, c.redisGroup, messageID).Result(); err != nil {
		return fmt.Errorf("acking message: %v, error: %w", messageID, err)
	}
	return nil
}

// SetError reports a request that could not be served, failing the
// promise the producer holds for it.
func (c *Consumer[Request, Response]) SetError(ctx context.Context, messageID string, resErr error) error {
	acquired, err := c.client.SetNX(ctx, ErrorKeyFor(c.redisStream, messageID), resErr.Error(), c.cfg.ResponseEntryTimeout).Result()
	if err != nil || !acquired {
		return fmt.Errorf("setting error for message: %v, error: %w", messageID, err)
	}
	if _, err := c.client.XAck(ctx, c.redisStream, c.redisGroup, messageID).Result(); err != nil {
		return fmt.Errorf("acking message: %v, error: %w", messageID, err)
	}
	return nil
}
