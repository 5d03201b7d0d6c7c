package rawbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStream  = "relaytimeline:raw"
	DefaultMaxLen  = 10000
	DefaultBuffer  = 1024
	publishTimeout = 2 * time.Second
)

// Config configures the Redis client.
type Config struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	TLSEnabled  bool
	TLSInsecure bool
}

// NewClient returns a connected client, or nil when no address is set.
func NewClient(cfg Config) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure, // #nosec G402 opt-in
		}
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// streamWriter is the slice of redis.UniversalClient the sink needs.
type streamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Record is one stream entry.
type Record struct {
	ConversationID string            `json:"conversationId"`
	ReceivedAt     time.Time         `json:"receivedAt"`
	Envelope       timeline.Envelope `json:"envelope"`
}

type RedisSinkOptions struct {
	Stream string
	MaxLen int64
	Buffer int
	Logger *zap.Logger
	// OnDrop is called for each envelope that could not be queued.
	OnDrop func()
	Now    func() time.Time
}

// RedisSink publishes raw envelopes to a Redis stream. Publish never blocks;
// a background goroutine performs the XAdd calls.
type RedisSink struct {
	client streamWriter
	stream string
	maxLen int64
	logger *zap.Logger
	onDrop func()
	now    func() time.Time

	queue chan Record
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

var _ timeline.RawSink = (*RedisSink)(nil)

func NewRedisSink(client redis.UniversalClient, opts RedisSinkOptions) *RedisSink {
	return newRedisSink(client, opts)
}

func newRedisSink(client streamWriter, opts RedisSinkOptions) *RedisSink {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &RedisSink{
		client: client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		logger: opts.Logger,
		onDrop: opts.OnDrop,
		now:    opts.Now,
		queue:  make(chan Record, opts.Buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RedisSink) Publish(conversationID string, env timeline.Envelope) {
	record := Record{ConversationID: conversationID, ReceivedAt: s.now(), Envelope: env}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop()
		return
	}
	select {
	case s.queue <- record:
	default:
		s.drop()
	}
}

func (s *RedisSink) drop() {
	if s.onDrop != nil {
		s.onDrop()
	}
}

func (s *RedisSink) run() {
	defer close(s.done)
	for record := range s.queue {
		if err := s.write(record); err != nil {
			s.logger.Warn("raw envelope publish failed",
				zap.String("stream", s.stream),
				zap.String("conversation_id", record.ConversationID),
				zap.Error(err),
			)
		}
	}
}

func (s *RedisSink) write(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"conversationId": record.ConversationID,
			"data":           data,
		},
	}).Err()
}

// Close stops accepting envelopes and waits until the queue is written out
// or ctx ends.
func (s *RedisSink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
