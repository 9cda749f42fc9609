package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tathienbao/signal-trader/internal/metrics"
)

// RedisConfig configures the pub/sub listener.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSource reads relayed chat messages from a Redis pub/sub channel.
// Payloads are JSON objects with author, channel_id and content.
type RedisSource struct {
	rdb      *redis.Client
	channel  string
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewRedisSource creates a pub/sub listener. The connection is opened lazily by Run.
func NewRedisSource(cfg RedisConfig, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	return &RedisSource{
		rdb:      rdb,
		channel:  cfg.Channel,
		recorder: metrics.NewRecorder(),
		logger:   logger,
	}
}

// Name returns the source name.
func (s *RedisSource) Name() string {
	return "redis"
}

// Run subscribes and routes messages until ctx is canceled.
func (s *RedisSource) Run(ctx context.Context, router *Router) error {
	var pubsub *redis.PubSub
	if hasPattern(s.channel) {
		pubsub = s.rdb.PSubscribe(ctx, s.channel)
	} else {
		pubsub = s.rdb.Subscribe(ctx, s.channel)
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis: subscribe %s: %w", s.channel, err)
	}

	s.logger.Info("redis source subscribed", "channel", s.channel)
	s.recorder.RecordSourceStatus(s.Name(), true)
	defer s.recorder.RecordSourceStatus(s.Name(), false)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis: subscription %s closed", s.channel)
			}
			m, err := decodeMessage([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn("redis payload dropped", "channel", msg.Channel, "err", err)
				s.recorder.RecordError("redis_payload")
				continue
			}
			router.Route(ctx, s.Name(), m)
		}
	}
}

// Publish relays a message onto the channel, for injecting signals from other tools.
func (s *RedisSource) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal message: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSource) Close() error {
	return s.rdb.Close()
}

func decodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if strings.TrimSpace(m.Content) == "" {
		return Message{}, fmt.Errorf("decode message: empty content")
	}
	m.ReceivedAt = time.Now()
	return m, nil
}

// hasPattern reports whether channel needs PSubscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}
