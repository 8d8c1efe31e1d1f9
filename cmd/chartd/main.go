package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"chartcore/config"
	"chartcore/internal/gateway"
	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/marketdata/bus"
	"chartcore/internal/marketdata/multitf"
	"chartcore/internal/marketdata/rest"
	"chartcore/internal/marketdata/ws"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
	"chartcore/internal/ringbuf"
	redisstore "chartcore/internal/store/redis"
	sqlitestore "chartcore/internal/store/sqlite"
)

const checkpointInterval = 5 * time.Minute

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[chartd] starting...")

	// ---- Load config from env ----
	cfg := config.Load()
	logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))

	symbols := cfg.ParseSymbols()
	baseTF := cfg.ParseBaseTF()
	derivedTFs := cfg.ParseEnabledTFs()
	log.Printf("[chartd] symbols=%v base=%s derived=%v capacity=%d",
		symbols, baseTF, derivedTFs, cfg.SeriesCapacity)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)
	tfLabels := make([]string, 0, len(derivedTFs)+1)
	tfLabels = append(tfLabels, baseTF.String())
	for _, tf := range derivedTFs {
		tfLabels = append(tfLabels, tf.String())
	}
	health.SetEnabledTFs(tfLabels)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown context ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite (off hot path) ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[chartd] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)

	sqlReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[chartd] sqlite reader init failed: %v", err)
	}
	defer sqlReader.Close()

	// ---- Redis (optional) ----
	var redisWriter *redisstore.Writer
	var bufferedRedis *redisstore.BufferedWriter
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[chartd] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
		redisWriter = nil
	} else {
		health.SetRedisConnected(true)
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[chartd] redis circuit breaker: %s -> %s", from, to)
		}
		bufferedRedis = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Pipeline channels ----
	// Store hooks run under the store lock: they only do non-blocking sends
	// into these channels, everything else happens downstream.
	wsCh := make(chan model.Candle, 5000)
	closedCh := make(chan model.ClosedCandle, 5000)
	formingCh := make(chan model.ClosedCandle, 5000)
	indCh := make(chan []model.IndicatorResult, 5000)

	// ---- Per-symbol multi-timeframe stores ----
	stores := make(map[string]*multitf.Store, len(symbols))
	for _, sym := range symbols {
		store := multitf.New(multitf.Config{
			Symbol:   sym,
			Base:     baseTF,
			Derived:  derivedTFs,
			Capacity: cfg.SeriesCapacity,
		})
		store.OnFinalize = func(tf model.Timeframe, c model.Candle) {
			prom.BucketsFinalized.WithLabelValues(tf.String()).Inc()
			select {
			case closedCh <- model.ClosedCandle{TF: tf, Candle: c}:
			default:
			}
		}
		store.OnForming = func(tf model.Timeframe, c model.Candle) {
			prom.FormingUpdates.WithLabelValues(tf.String()).Inc()
			select {
			case formingCh <- model.ClosedCandle{TF: tf, Candle: c}:
			default:
			}
		}
		store.OnIndicators = func(results []model.IndicatorResult) {
			prom.IndicatorsTotal.Add(float64(len(results)))
			select {
			case indCh <- results:
			default:
			}
		}
		store.OnEvict = func(tf model.Timeframe) {
			prom.SeriesEvictions.WithLabelValues(tf.String()).Inc()
		}
		stores[sym] = store
	}

	// ---- Bootstrap: REST history, SQLite as fallback ----
	restClient := rest.New(cfg.BinanceRESTURL)
	for _, sym := range symbols {
		bootstrap(ctx, sym, baseTF, cfg, restClient, sqlReader, stores[sym])
	}

	// ---- Gateway ----
	hub := gateway.NewHub(stores)
	hub.OnClientCount = func(n int) { prom.GatewayClients.Set(float64(n)) }
	hub.OnBroadcast = func() { prom.GatewayMessages.Inc() }
	hub.OnSlowDrop = func() { prom.GatewaySlowDrops.Inc() }

	gwMux := http.NewServeMux()
	gwMux.HandleFunc("/ws", hub.HandleWS)
	gwMux.HandleFunc("/api/missed", hub.HandleMissed)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: gwMux}
	go func() {
		log.Printf("[chartd] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[chartd] gateway server error: %v", err)
		}
	}()

	// ---- Fan-out for closed candles (SQLite + Redis + gateway) ----
	fanout := bus.New[model.ClosedCandle](5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	sqliteCh := fanout.Subscribe()
	gatewayCh := fanout.Subscribe()
	var redisCh <-chan model.ClosedCandle
	if bufferedRedis != nil {
		redisCh = fanout.Subscribe()
	}

	go fanout.Run(ctx, closedCh)
	go sqlWriter.Run(ctx, sqliteCh)

	go func() {
		for cc := range gatewayCh {
			hub.Publish(gateway.CandleChannel(cc.TF, cc.Candle.Symbol), cc.Candle.JSON())
		}
	}()

	if bufferedRedis != nil {
		go func() {
			for cc := range redisCh {
				start := time.Now()
				bufferedRedis.WriteCandle(cc)
				prom.RedisWriteDur.Observe(time.Since(start).Seconds())
			}
		}()
	}

	// ---- Forming-bucket updates: gateway + Redis PubSub ----
	var redisFormingCh chan model.ClosedCandle
	if redisWriter != nil {
		redisFormingCh = make(chan model.ClosedCandle, 5000)
		go redisWriter.RunForming(ctx, redisFormingCh)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cc, ok := <-formingCh:
				if !ok {
					return
				}
				hub.Publish(gateway.FormingChannel(cc.TF, cc.Candle.Symbol), cc.Candle.JSON())
				if redisFormingCh != nil {
					select {
					case redisFormingCh <- cc:
					default:
					}
				}
			}
		}
	}()

	// ---- Indicator results: gateway + Redis pipeline ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case results, ok := <-indCh:
				if !ok {
					return
				}
				for i := range results {
					r := &results[i]
					if !r.Ready {
						continue
					}
					hub.Publish(gateway.IndicatorChannel(r.Name, r.TF, r.Symbol), r.JSON())
				}
				if redisWriter != nil {
					redisWriter.WriteIndicatorBatch(ctx, results)
				}
			}
		}
	}()

	// ---- Channel saturation metrics ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i, s := range fanout.Stats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
				prom.ChannelSaturationPct.WithLabelValues("ws").Set(float64(len(wsCh)) / float64(cap(wsCh)) * 100)
			}
		}
	}()

	// ---- Ring buffer between feed and compute ----
	ring := ringbuf.New[model.Candle](8192)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-wsCh:
				if !ok {
					return
				}
				if !ring.Push(c) {
					prom.RingBufOverflow.Inc()
				}
			}
		}
	}()

	// ---- Apply loop (HOT PATH) ----
	go func() {
		for {
			c, ok := ring.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				continue
			}
			store, exists := stores[c.Symbol]
			if !exists {
				continue
			}
			prom.CandlesIngested.Inc()
			health.SetLastCandleTime(time.Now())
			start := time.Now()
			store.Apply(c)
			prom.ApplyDur.Observe(time.Since(start).Seconds())
		}
	}()

	// ---- Periodic indicator checkpoints ----
	go func() {
		ticker := time.NewTicker(checkpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkpoint(stores, sqlWriter)
			}
		}
	}()

	// ---- WS ingest ----
	ingest, err := ws.New(ws.IngestConfig{
		BaseURL:  cfg.BinanceWSURL,
		Symbols:  symbols,
		Interval: cfg.BaseTF,
	})
	if err != nil {
		log.Fatalf("[chartd] ws init failed: %v", err)
	}
	ingest.OnReconnect = func() { prom.WSReconnects.Inc() }
	ingest.OnParseError = func() { prom.ParseErrors.Inc() }
	ingest.OnConnected = func(up bool) { health.SetWSConnected(up) }

	go func() {
		if err := ingest.Start(ctx, wsCh); err != nil && ctx.Err() == nil {
			log.Printf("[chartd] ws ingest exited: %v", err)
		}
	}()

	log.Println("[chartd] ╔══════════════════════════════════════════════════════════╗")
	log.Println("[chartd] ║  Chart Engine                                            ║")
	log.Println("[chartd] ║                                                          ║")
	log.Println("[chartd] ║  [Kline WS] → [Ring] → [MultiTF Store] → fan-out         ║")
	log.Println("[chartd] ║       fan-out → [SQLite] [Redis] [WS Gateway]            ║")
	log.Printf("[chartd] ║  Symbols: %-46v ║", symbols)
	log.Printf("[chartd] ║  TFs: %-50v ║", tfLabels)
	log.Println("[chartd] ╚══════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[chartd] shutdown signal received, cleaning up...")
	cancel()

	// Final checkpoint + give writers time to flush
	checkpoint(stores, sqlWriter)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	gwSrv.Shutdown(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[chartd] shutdown complete.")
}

// bootstrap loads historical candles into a store: REST first, SQLite as
// fallback when the exchange is unreachable. If neither yields candles,
// indicator state is restored from the last checkpoint so committed
// sequences keep their continuity.
func bootstrap(ctx context.Context, symbol string, baseTF model.Timeframe, cfg *config.Config,
	restClient *rest.Client, sqlReader *sqlitestore.Reader, store *multitf.Store) {

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	candles, err := restClient.FetchKlines(fetchCtx, symbol, cfg.BaseTF, 0, cfg.HistoryLimit)
	if err != nil {
		log.Printf("[chartd] REST bootstrap failed for %s: %v (trying sqlite)", symbol, err)
		candles, err = sqlReader.ReadCandles(symbol, baseTF, 0, cfg.HistoryLimit)
		if err != nil {
			log.Printf("[chartd] sqlite bootstrap failed for %s: %v", symbol, err)
		}
	}

	if len(candles) > 0 {
		store.SetHistoricalData(candles)
		log.Printf("[chartd] bootstrapped %s with %d candles", symbol, len(candles))
		return
	}

	// Cold start with no history: recover indicator continuity from the
	// last checkpoint if one exists.
	snaps := make(map[string]*indicator.EngineSnapshot)
	for _, tf := range store.Timeframes() {
		snap, err := sqlReader.ReadLatestSnapshot(symbol, tf)
		if err != nil || snap == nil {
			continue
		}
		snaps[tf.String()] = snap
	}
	if len(snaps) == 0 {
		log.Printf("[chartd] cold start for %s: no history, no checkpoint", symbol)
		return
	}
	if err := store.RestoreIndicators(snaps); err != nil {
		log.Printf("[chartd] checkpoint restore failed for %s: %v", symbol, err)
		return
	}
	log.Printf("[chartd] restored indicator checkpoints for %s (%d lanes)", symbol, len(snaps))
}

// checkpoint persists every lane's indicator engine state.
func checkpoint(stores map[string]*multitf.Store, sqlWriter *sqlitestore.Writer) {
	for symbol, store := range stores {
		for label, snap := range store.SnapshotIndicators() {
			tf, err := model.ParseTimeframe(label)
			if err != nil {
				continue
			}
			if err := sqlWriter.SaveSnapshot(symbol, tf, snap); err != nil {
				log.Printf("[chartd] checkpoint %s %s failed: %v", symbol, label, err)
			}
		}
	}
	log.Printf("[chartd] indicator checkpoint saved for %d stores", len(stores))
}
