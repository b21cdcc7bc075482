package redis

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/offchainlabs/gojit/pubsub"
	"github.com/offchainlabs/gojit/util/redisutil"
	"github.com/offchainlabs/gojit/util/stopwaiter"
	"github.com/offchainlabs/gojit/validator"
	"github.com/offchainlabs/gojit/validator/server_api"
)

type ValidationClientConfig struct {
	Name     string `koanf:"name"`
	Room     int32  `koanf:"room"`
	RedisURL string `koanf:"redis-url"`
	// When enabled, the client creates the request streams it produces to.
	CreateStreams  bool                  `koanf:"create-streams"`
	ProducerConfig pubsub.ProducerConfig `koanf:"producer-config"`
}

func (c ValidationClientConfig) Enabled() bool {
	return c.RedisURL != ""
}

var DefaultValidationClientConfig = ValidationClientConfig{
	Name:           "redis validation client",
	Room:           2,
	RedisURL:       "",
	CreateStreams:  true,
	ProducerConfig: pubsub.DefaultProducerConfig,
}

var TestValidationClientConfig = ValidationClientConfig{
	Name:           "test redis validation client",
	Room:           2,
	RedisURL:       "",
	CreateStreams:  true,
	ProducerConfig: pubsub.TestProducerConfig,
}

func ValidationClientConfigAddOptions(prefix string, f *pflag.FlagSet) {
	f.String(prefix+".name", DefaultValidationClientConfig.Name, "validation client name")
	f.Int32(prefix+".room", DefaultValidationClientConfig.Room, "validation client room")
	f.String(prefix+".redis-url", DefaultValidationClientConfig.RedisURL, "url of redis server")
	f.Bool(prefix+".create-streams", DefaultValidationClientConfig.CreateStreams, "create validation streams if they do not exist")
	pubsub.ProducerAddConfigAddOptions(prefix+".producer-config", f)
}

// ValidationClient implements validation spawner through redis streams.
type ValidationClient struct {
	stopwaiter.StopWaiter
	config *ValidationClientConfig
	room   int32
	// producers stores moduleRoot to producer mapping.
	producers   map[common.Hash]*pubsub.Producer[*server_api.ValidationInputJson, validator.GoGlobalState]
	redisClient redis.UniversalClient
	moduleRoots []common.Hash
}

func NewValidationClient(cfg *ValidationClientConfig) (*ValidationClient, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis url cannot be empty")
	}
	redisClient, err := redisutil.RedisClientFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return &ValidationClient{
		config:      cfg,
		room:        cfg.Room,
		producers:   make(map[common.Hash]*pubsub.Producer[*server_api.ValidationInputJson, validator.GoGlobalState]),
		redisClient: redisClient,
	}, nil
}

func (c *ValidationClient) Start(ctx context.Context) error {
	c.StopWaiter.Start(ctx, c)
	return nil
}

// Initialize creates a producer for every given module root. The client
// must be started first, producers run on its lifetime.
func (c *ValidationClient) Initialize(moduleRoots []common.Hash) error {
	ctx := c.GetContext()
	for _, mr := range moduleRoots {
		if _, exists := c.producers[mr]; exists {
			log.Warn("Producer already exists for module root", "hash", mr)
			continue
		}
		if c.config.CreateStreams {
			if err := pubsub.CreateStream(ctx, server_api.RedisStreamForRoot(mr), c.redisClient); err != nil {
				return fmt.Errorf("creating redis stream: %w", err)
			}
		}
		p, err := pubsub.NewProducer[*server_api.ValidationInputJson, validator.GoGlobalState](
			c.redisClient, server_api.RedisStreamForRoot(mr), &c.config.ProducerConfig)
		if err != nil {
			return fmt.Errorf("creating producer for validation: %w", err)
		}
		p.Start(ctx)
		c.producers[mr] = p
		c.moduleRoots = append(c.moduleRoots, mr)
	}
	return nil
}

func (c *ValidationClient) WasmModuleRoots() ([]common.Hash, error) {
	return c.moduleRoots, nil
}

func (c *ValidationClient) Execute(ctx context.Context, entry *validator.ValidationInput, moduleRoot common.Hash) (validator.GoGlobalState, error) {
	atomic.AddInt32(&c.room, -1)
	defer atomic.AddInt32(&c.room, 1)
	producer, found := c.producers[moduleRoot]
	if !found {
		return validator.GoGlobalState{}, fmt.Errorf("no validation stream is configured for wasm root %v", moduleRoot)
	}
	promise, err := producer.Produce(ctx, server_api.ValidationInputToJson(entry))
	if err != nil {
		return validator.GoGlobalState{}, fmt.Errorf("producing input: %w", err)
	}
	return promise.Await(ctx)
}

func (c *ValidationClient) Stop() {
	for _, p := range c.producers {
		p.StopAndWait()
	}
	c.StopWaiter.StopAndWait()
}

func (c *ValidationClient) Name() string {
	if c.Started() {
		return c.config.Name
	}
	return "(not started)"
}

func (c *ValidationClient) Room() int {
	return int(atomic.LoadInt32(&c.room))
}
