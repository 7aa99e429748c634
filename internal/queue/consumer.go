// Package queue consumes strategy events from Kafka and feeds them to intake.
//
// Each topic has its own consumer-group reader and is processed strictly one
// message at a time; parallelism only exists across topics. The offset is
// committed after every handled message whatever the outcome, since failures are
// already escalated and a redelivery would only repeat them. Cancellation stops
// fetching; the message in hand is still handled on a detached context.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"tgalerter/internal/dispatch"
	"tgalerter/internal/metrics"
	"tgalerter/internal/runtime/supervisor"
	"tgalerter/pkg/logx"

	"github.com/segmentio/kafka-go"
)

// Handler processes one raw payload. It must not panic or block indefinitely.
type Handler interface {
	HandleMessage(ctx context.Context, payload []byte) dispatch.Outcome
}

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// DefaultTopic is the queue name used when none is configured.
func DefaultTopic(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "dev"
	}
	return stage + "_alert_event_q"
}

// NewKafkaReader builds a consumer-group reader for one topic.
func NewKafkaReader(cfg Config, topic string) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	})
}

const (
	minReadBackoff = 250 * time.Millisecond
	maxReadBackoff = 5 * time.Second
)

type Consumer struct {
	cfg       Config
	handler   Handler
	log       logx.Logger
	newReader func(cfg Config, topic string) Reader

	mu      sync.Mutex
	readers map[string]Reader
}

type Option func(*Consumer)

// WithReaderFactory replaces the Kafka reader constructor.
func WithReaderFactory(fn func(cfg Config, topic string) Reader) Option {
	return func(c *Consumer) { c.newReader = fn }
}

func New(cfg Config, h Handler, log logx.Logger, opts ...Option) *Consumer {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Consumer{
		cfg:       cfg,
		handler:   h,
		log:       log.With(logx.String("comp", "queue")),
		newReader: NewKafkaReader,
		readers:   map[string]Reader{},
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// TaskName is the supervisor task name of a topic's consume loop.
func TaskName(topic string) string { return "queue." + topic }

// Start launches one restartable consume loop per topic.
func (c *Consumer) Start(sup *supervisor.Supervisor) error {
	if len(c.cfg.Topics) == 0 {
		return errors.New("queue: no topics configured")
	}
	for _, topic := range c.cfg.Topics {
		topic := topic
		sup.GoRestart(TaskName(topic), func(ctx context.Context) error {
			return c.Consume(ctx, topic)
		}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	c.log.Info("queue consumers started",
		logx.Any("topics", c.cfg.Topics),
		logx.String("group_id", c.cfg.GroupID),
	)
	return nil
}

// Consume runs the fetch, handle, commit loop for one topic until ctx ends.
func (c *Consumer) Consume(ctx context.Context, topic string) error {
	r := c.newReader(c.cfg, topic)
	c.mu.Lock()
	c.readers[topic] = r
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.readers, topic)
		c.mu.Unlock()
		if err := r.Close(); err != nil {
			c.log.Warn("reader close failed", logx.String("topic", topic), logx.Err(err))
		}
	}()

	log := c.log.With(logx.String("topic", topic))
	backoff := minReadBackoff
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader closed: %w", err)
			}
			log.Warn("queue read failed", logx.Duration("backoff", backoff), logx.Err(err))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxReadBackoff)
			continue
		}
		backoff = minReadBackoff

		metrics.ObserveQueueMessage(topic)
		log.Debug("queue message",
			logx.Int("partition", m.Partition),
			logx.Int64("offset", m.Offset),
		)
		// a fetched message is handled to the end even if shutdown starts;
		// resolver, delivery and escalation bound their own calls
		outcome := c.handler.HandleMessage(context.WithoutCancel(ctx), m.Value)

		// commit on a context that survives shutdown so the handled message is not replayed
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = r.CommitMessages(cctx, m)
		cancel()
		if err != nil {
			log.Warn("queue commit failed",
				logx.Int64("offset", m.Offset),
				logx.String("outcome", outcome.String()),
				logx.Err(err),
			)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Topics returns the topics with an open reader.
func (c *Consumer) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.readers))
	for t := range c.readers {
		out = append(out, t)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
