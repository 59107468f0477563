package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"featureflow/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string   // consumer group name, e.g. "featengine"
	ConsumerName  string   // unique consumer name, e.g. hostname
	Streams       []string // bar streams consumed by StreamBars
}

// Reader consumes bars from Redis Streams via consumer groups. Delivery is
// at-least-once: a message is ACKed only after the bar has been handed off.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	streams       []string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "featengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
		streams:       cfg.Streams,
	}, nil
}

// EnsureConsumerGroup creates the consumer group on the given streams if it
// doesn't exist. New groups start at "0" so bars already in the stream are
// processed.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// StreamBars implements model.BarStreamer over the configured streams:
// it creates the group, drains this consumer's pending entries, then blocks
// on new bars until ctx is cancelled.
func (r *Reader) StreamBars(ctx context.Context, out chan<- model.Bar) error {
	if len(r.streams) == 0 {
		return fmt.Errorf("redis reader: no bar streams configured")
	}
	if err := r.EnsureConsumerGroup(ctx, r.streams); err != nil {
		return err
	}
	if err := r.RecoverPending(ctx, r.streams, out); err != nil {
		return err
	}
	return r.ConsumeBars(ctx, r.streams, out)
}

// ConsumeBars reads bars from Redis Streams using consumer groups.
// Blocks on XREADGROUP and sends parsed bars to the output channel.
// Returns when ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.Bar) error {
	// Build stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending re-delivers this consumer's unACKed messages from a
// previous run, oldest first.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Bar) error {
	for _, stream := range streams {
		start := "0"
		for {
			res, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Streams:  []string{stream, start},
				Count:    100,
			}).Result()
			if err != nil {
				if err == goredis.Nil {
					break
				}
				return fmt.Errorf("recover pending %s: %w", stream, err)
			}
			if len(res) == 0 || len(res[0].Messages) == 0 {
				break
			}
			msgs := res[0].Messages
			if err := r.deliver(ctx, stream, msgs, out); err != nil {
				return err
			}
			start = msgs[len(msgs)-1].ID
			log.Printf("[redis-reader] recovered %d pending bars from %s", len(msgs), stream)
		}
	}
	return nil
}

func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Bar) error {
	for _, msg := range msgs {
		bar, err := decodeBar(stream, msg.Values)
		if err != nil {
			log.Printf("[redis-reader] %s %s: %v", stream, msg.ID, err)
			// ACK even on bad message to avoid poison pill
			r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			continue
		}

		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}

		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	}
	return nil
}

// ReadLatestFeature returns the newest feature record published for symbol,
// or nil when none is cached.
func (r *Reader) ReadLatestFeature(ctx context.Context, symbol string) (*model.FeatureRecord, error) {
	data, err := r.client.Get(ctx, FeatureLatestKey(symbol)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get latest %s: %w", symbol, err)
	}
	var rec model.FeatureRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal feature: %w", err)
	}
	return &rec, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
