// Package redis publishes closed candles, forming snapshots and indicator
// values to Redis Streams and PubSub for downstream consumers.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"chartcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Keep roughly three days of candles per stream.
	streamWindowMs   = 3 * 24 * 60 * 60 * 1000
	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes candles and indicator results to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads closed candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.ClosedCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case cc, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, cc)
		}
	}
}

// RunForming publishes forming-bucket snapshots via PubSub ONLY (no XADD).
// Used for live chart updates on every base candle.
func (w *Writer) RunForming(ctx context.Context, ch <-chan model.ClosedCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case cc, ok := <-ch:
			if !ok {
				return
			}
			jsonBytes := cc.Candle.JSON()
			jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
			w.client.Publish(ctx, cc.PubSubChannel(), jsonData)
		}
	}
}

// WriteIndicatorBatch writes multiple indicator results in a single Redis
// pipeline: one network roundtrip for XADD + SET + PUBLISH across all
// results. Live results go to PubSub only.
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range results {
		ind := &results[i]
		if !ind.Ready {
			continue
		}

		jsonBytes := ind.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		pubsubCh := ind.PubSubChannel()

		if ind.Live {
			pipe.Publish(ctx, pubsubCh, jsonData)
			continue
		}

		// Confirmed: XADD + SET + PUBLISH
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ind.StreamKey(),
			MaxLen: 2000,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, ind.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] indicator batch pipeline error (%d results): %v", len(results), err)
	}
}

// writeCandle performs pipelined writes for one closed candle. The error
// feeds the circuit breaker in BufferedWriter.
func (w *Writer) writeCandle(ctx context.Context, cc model.ClosedCandle) error {
	jsonData := string(cc.Candle.JSON())

	// Proportional MAXLEN: ~3 days of candles per stream
	maxLen := streamWindowMs/cc.TF.Millis() + 100
	if maxLen < 200 {
		maxLen = 200
	}

	pipe := w.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: cc.StreamKey(),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})
	pipe.Set(ctx, cc.LatestKey(), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, cc.PubSubChannel(), jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] pipeline error for %s: %v", cc.Key(), err)
	}
	return err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
