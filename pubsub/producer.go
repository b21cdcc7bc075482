// Package pubsub implements a request/response pattern over redis streams.
// A producer returns a promise when publishing a request; the promise
// resolves once some consumer writes the response under the request's
// result key. Consumers prove liveness through heartbeat entries, and the
// producer reclaims requests whose consumer stopped heartbeating, either
// re-inserting them into the stream or failing their promise.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/util/containers"
	"github.com/offchainlabs/gojit/util/stopwaiter"
)

type Producer[Request any, Response any] struct {
	stopwaiter.StopWaiter
	id          string
	client      redis.UniversalClient
	redisStream string
	redisGroup  string
	cfg         *ProducerConfig

	promisesLock sync.RWMutex
	promises     map[string]*containers.Promise[Response]

	// The background checks are started on first use, so that a producer
	// can be constructed before its stopwaiter runs.
	once sync.Once
}

type ProducerConfig struct {
	// When enabled, messages that were in the process of being consumed by a
	// dead consumer are re-inserted into the stream, otherwise their
	// promises fail.
	EnableReproduce bool `koanf:"enable-reproduce"`
	// Interval duration in which producer checks for pending messages
	// delivered to consumers that are currently inactive.
	CheckPendingInterval time.Duration `koanf:"check-pending-interval"`
	// Duration after which consumer is considered to be dead if heartbeat
	// is not updated.
	KeepAliveTimeout time.Duration `koanf:"keepalive-timeout"`
	// Interval duration for checking the result set by consumers.
	CheckResultInterval time.Duration `koanf:"check-result-interval"`
	// Max number of pending messages to screen in a single check.
	CheckPendingItems int64 `koanf:"check-pending-items"`
}

var DefaultProducerConfig = ProducerConfig{
	EnableReproduce:      true,
	CheckPendingInterval: time.Second,
	KeepAliveTimeout:     5 * time.Minute,
	CheckResultInterval:  5 * time.Second,
	CheckPendingItems:    256,
}

var TestProducerConfig = ProducerConfig{
	EnableReproduce:      true,
	CheckPendingInterval: 10 * time.Millisecond,
	KeepAliveTimeout:     20 * time.Millisecond,
	CheckResultInterval:  5 * time.Millisecond,
	CheckPendingItems:    256,
}

func ProducerAddConfigAddOptions(prefix string, f *pflag.FlagSet) {
	f.Bool(prefix+".enable-reproduce", DefaultProducerConfig.EnableReproduce, "when enabled, messages with dead consumer will be re-inserted into the stream")
	f.Duration(prefix+".check-pending-interval", DefaultProducerConfig.CheckPendingInterval, "interval in which producer checks pending messages whether consumer processing them is inactive")
	f.Duration(prefix+".keepalive-timeout", DefaultProducerConfig.KeepAliveTimeout, "timeout after which consumer is considered inactive if heartbeat wasn't performed")
	f.Duration(prefix+".check-result-interval", DefaultProducerConfig.CheckResultInterval, "interval in which producer checks pending messages whether consumer processing them is inactive")
	f.Int64(prefix+".check-pending-items", DefaultProducerConfig.CheckPendingItems, "items to screen during check-pending")
}

func NewProducer[Request any, Response any](client redis.UniversalClient, streamName string, cfg *ProducerConfig) (*Producer[Request, Response], error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if streamName == "" {
		return nil, fmt.Errorf("stream name cannot be empty")
	}
	return &Producer[Request, Response]{
		id:          uuid.NewString(),
		client:      client,
		redisStream: streamName,
		redisGroup:  streamName, // There is 1-1 mapping of redis stream and consumer group.
		cfg:         cfg,
		promises:    make(map[string]*containers.Promise[Response]),
	}, nil
}

func (p *Producer[Request, Response]) Start(ctx context.Context) {
	p.StopWaiter.Start(ctx, p)
}

// checkAndReproduce reclaims pending messages whose consumer stopped
// heartbeating. Reclaimed messages are acked away from the dead consumer
// and, if reproduction is enabled, re-inserted for a live one.
func (p *Producer[Request, Response]) checkAndReproduce(ctx context.Context) time.Duration {
	msgs, err := p.checkPending(ctx)
	if err != nil {
		log.Error("Checking pending messages", "error", err)
		return p.cfg.CheckPendingInterval
	}
	for _, msg := range msgs {
		if err := p.client.XAck(ctx, p.redisStream, p.redisGroup, msg.ID).Err(); err != nil {
			log.Error("ACKing message", "id", msg.ID, "error", err)
			continue
		}
		if !p.cfg.EnableReproduce {
			p.promisesLock.Lock()
			if promise := p.promises[msg.ID]; promise != nil {
				promise.ProduceError(fmt.Errorf("message %v consumer died without a response", msg.ID))
				delete(p.promises, msg.ID)
			}
			p.promisesLock.Unlock()
			continue
		}
		if _, err := p.reproduce(ctx, msg.Value, msg.ID); err != nil {
			log.Error("Re-inserting message with inactive consumer", "id", msg.ID, "error", err)
		}
	}
	return p.cfg.CheckPendingInterval
}

// checkResponses checks iteratively whether response or error for the
// promise is ready.
func (p *Producer[Request, Response]) checkResponses(ctx context.Context) time.Duration {
	p.promisesLock.Lock()
	defer p.promisesLock.Unlock()
	for id, promise := range p.promises {
		if ctx.Err() != nil {
			return 0
		}
		res, err := p.client.Get(ctx, ResultKeyFor(p.redisStream, id)).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Error("Error reading response in redis", "key", id, "error", err)
				continue
			}
			// No response yet, check whether the consumer reported failure.
			errStr, err := p.client.Get(ctx, ErrorKeyFor(p.redisStream, id)).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					log.Error("Error reading error in redis", "key", id, "error", err)
				}
				continue
			}
			promise.ProduceError(errors.New(errStr))
			delete(p.promises, id)
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(res), &resp); err != nil {
			promise.ProduceError(fmt.Errorf("error unmarshalling: %w", err))
			log.Error("Error unmarshaling", "value", res, "error", err)
		} else {
			promise.Produce(resp)
		}
		delete(p.promises, id)
	}
	return p.cfg.CheckResultInterval
}

// reproduce inserts the request into the stream and registers its promise
// under the new message id, carrying over the promise registered under
// oldKey when re-inserting a reclaimed message.
func (p *Producer[Request, Response]) reproduce(ctx context.Context, value Request, oldKey string) (*containers.Promise[Response], error) {
	val, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}
	msgID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.redisStream,
		Values: map[string]any{messageKey: val},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("adding values to redis: %w", err)
	}
	p.promisesLock.Lock()
	defer p.promisesLock.Unlock()
	promise := p.promises[oldKey]
	if oldKey != "" && promise == nil {
		// The response showed up while we were re-inserting the message.
		return nil, fmt.Errorf("reproducing %v: no promise exists", oldKey)
	}
	delete(p.promises, oldKey)
	if promise == nil {
		pr := containers.NewPromise[Response](nil)
		promise = &pr
	}
	p.promises[msgID] = promise
	return promise, nil
}

func (p *Producer[Request, Response]) Produce(ctx context.Context, value Request) (*containers.Promise[Response], error) {
	log.Debug("Redis stream producing", "value", value)
	p.once.Do(func() {
		p.StopWaiter.CallIteratively(p.checkAndReproduce)
		p.StopWaiter.CallIteratively(p.checkResponses)
	})
	return p.reproduce(ctx, value, "")
}

func (p *Producer[Request, Response]) isConsumerAlive(ctx context.Context, consumerID string) bool {
	if _, err := p.client.Get(ctx, heartBeatKey(consumerID)).Int64(); err != nil {
		return false
	}
	return true
}

type Message[Request any] struct {
	ID    string
	Value Request
}

// checkPending returns all pending messages claimed away from consumers
// that are no longer heartbeating.
func (p *Producer[Request, Response]) checkPending(ctx context.Context) ([]*Message[Request], error) {
	pendingMessages, err := p.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: p.redisStream,
		Group:  p.redisGroup,
		Start:  "-",
		End:    "+",
		Count:  p.cfg.CheckPendingItems,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("querying pending messages: %w", err)
	}
	if len(pendingMessages) == 0 {
		return nil, nil
	}
	// IDs of the pending messages with inactive consumers.
	var ids []string
	active := make(map[string]bool)
	for _, msg := range pendingMessages {
		alive, found := active[msg.Consumer]
		if !found {
			alive = p.isConsumerAlive(ctx, msg.Consumer)
			active[msg.Consumer] = alive
		}
		if alive {
			continue
		}
		ids = append(ids, msg.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	log.Info("Attempting to claim", "messages", ids)
	claimedMsgs, err := p.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   p.redisStream,
		Group:    p.redisGroup,
		Consumer: p.id,
		MinIdle:  p.cfg.KeepAliveTimeout,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming ownership: %w", err)
	}
	var res []*Message[Request]
	for _, msg := range claimedMsgs {
		data, ok := (msg.Values[messageKey]).(string)
		if !ok {
			return nil, fmt.Errorf("message %v has no %q entry", msg.ID, messageKey)
		}
		var req Request
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %v, error: %w", msg.ID, err)
		}
		res = append(res, &Message[Request]{
			ID:    msg.ID,
			Value: req,
		})
	}
	return res, nil
}
