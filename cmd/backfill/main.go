// Command backfill fetches deep kline history from the exchange REST API
// and writes it into the local SQLite database, so chartd can bootstrap
// without hammering the exchange on every restart.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chartcore/internal/marketdata/rest"
	"chartcore/internal/model"
	sqlitestore "chartcore/internal/store/sqlite"
)

const pageSize = 1000

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		symbol   = flag.String("symbol", "BTCUSDT", "symbol to backfill")
		interval = flag.String("interval", "1m", "kline interval (1m, 5m, 1h, ...)")
		days     = flag.Int("days", 7, "how many days of history to fetch")
		dbPath   = flag.String("db", "data/candles.db", "SQLite database path")
		restURL  = flag.String("rest", "https://api.binance.com", "REST API base URL")
	)
	flag.Parse()

	tf, err := model.ParseTimeframe(*interval)
	if err != nil {
		log.Fatalf("[backfill] invalid interval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[backfill] interrupted")
		cancel()
	}()

	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[backfill] sqlite init failed: %v", err)
	}
	defer writer.Close()

	client := rest.New(*restURL)

	// Resume from where the database left off, bounded by the -days window.
	startTS := time.Now().AddDate(0, 0, -*days).UnixMilli()
	startTS = tf.BucketStart(startTS)
	if lastTS, err := writer.GetLastTimestamp(*symbol, tf); err == nil && lastTS > startTS {
		startTS = lastTS + tf.Millis()
		log.Printf("[backfill] resuming after existing data at %d", lastTS)
	}

	candleCh := make(chan model.ClosedCandle, pageSize)
	done := make(chan struct{})
	go func() {
		writer.Run(ctx, candleCh)
		close(done)
	}()

	total := 0
	for ctx.Err() == nil {
		candles, err := client.FetchKlines(ctx, *symbol, *interval, startTS, pageSize)
		if err != nil {
			log.Fatalf("[backfill] fetch failed at %d: %v", startTS, err)
		}
		if len(candles) == 0 {
			break
		}

		for _, c := range candles {
			select {
			case candleCh <- model.ClosedCandle{TF: tf, Candle: c}:
			case <-ctx.Done():
			}
		}
		total += len(candles)
		startTS = candles[len(candles)-1].TS + tf.Millis()
		log.Printf("[backfill] %d candles so far (next start %d)", total, startTS)

		if len(candles) < pageSize {
			break // reached present
		}
		time.Sleep(200 * time.Millisecond) // stay under rate limits
	}

	close(candleCh)
	<-done
	log.Printf("[backfill] done: %d candles for %s %s", total, *symbol, *interval)
}
