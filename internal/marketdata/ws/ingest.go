// Package ws streams kline updates from the Binance combined WebSocket
// feed and normalizes them into model.Candle values.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"chartcore/internal/model"

	"github.com/gorilla/websocket"
)

const (
	readTimeout    = 90 * time.Second // Binance pings every ~3 min; server pings keep this alive
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// IngestConfig holds configuration for the WS ingest.
type IngestConfig struct {
	BaseURL  string   // e.g. "wss://stream.binance.com:9443"
	Symbols  []string // e.g. ["BTCUSDT", "ETHUSDT"]
	Interval string   // kline interval of the base stream, e.g. "1m"
}

// Ingest connects to the combined kline stream and pushes normalized
// candles into an output channel. Every kline update becomes a candle
// carrying the bucket open time; the downstream store folds repeated
// updates of the same bucket into one bar.
type Ingest struct {
	cfg IngestConfig

	// Optional metrics hooks
	OnReconnect  func()
	OnParseError func()
	OnConnected  func(up bool)
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("ws ingest: no symbols configured")
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return &Ingest{cfg: cfg}, nil
}

// streamURL builds the combined stream URL:
// {base}/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m
func (ing *Ingest) streamURL() string {
	streams := make([]string, len(ing.cfg.Symbols))
	for i, s := range ing.cfg.Symbols {
		streams[i] = strings.ToLower(s) + "@kline_" + ing.cfg.Interval
	}
	return ing.cfg.BaseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Start connects and streams candles into out until ctx is cancelled.
// Reconnects with exponential backoff on any failure.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.Candle) error {
	url := ing.streamURL()
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Printf("[ws] dial failed: %v (retrying in %v)", err, backoff)
			if ing.OnReconnect != nil {
				ing.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		log.Printf("[ws] connected to %s", url)
		backoff = initialBackoff
		if ing.OnConnected != nil {
			ing.OnConnected(true)
		}

		err = ing.readLoop(ctx, conn, out)
		conn.Close()
		if ing.OnConnected != nil {
			ing.OnConnected(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[ws] connection lost: %v (reconnecting)", err)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}
}

// readLoop reads messages until the connection breaks or ctx is done.
func (ing *Ingest) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- model.Candle) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Close the connection when ctx is cancelled to unblock ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		candle, err := ParseKline(msg)
		if err != nil {
			log.Printf("[ws] parse error: %v", err)
			if ing.OnParseError != nil {
				ing.OnParseError()
			}
			continue
		}

		select {
		case out <- candle:
		default:
			log.Println("[ws] output channel full, dropping candle")
		}
	}
}

// combinedMsg is the combined-stream wrapper: {"stream":"...","data":{...}}.
type combinedMsg struct {
	Stream string   `json:"stream"`
	Data   klineMsg `json:"data"`
}

type klineMsg struct {
	EventType string  `json:"e"`
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	Kline     payload `json:"k"`
}

type payload struct {
	OpenTime  int64  `json:"t"` // bucket start, epoch ms
	CloseTime int64  `json:"T"` // bucket end, epoch ms
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// ParseKline converts a combined-stream kline message into a candle.
// Prices arrive as decimal strings.
func ParseKline(msg []byte) (model.Candle, error) {
	var cm combinedMsg
	if err := json.Unmarshal(msg, &cm); err != nil {
		return model.Candle{}, fmt.Errorf("unmarshal kline: %w", err)
	}
	if cm.Data.EventType != "kline" {
		return model.Candle{}, fmt.Errorf("unexpected event type %q", cm.Data.EventType)
	}

	k := cm.Data.Kline
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	clos, err4 := strconv.ParseFloat(k.Close, 64)
	vol, err5 := strconv.ParseFloat(k.Volume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return model.Candle{}, fmt.Errorf("parse kline prices: %w", err)
		}
	}

	symbol := cm.Data.Symbol
	if symbol == "" {
		symbol = k.Symbol
	}
	if symbol == "" {
		return model.Candle{}, fmt.Errorf("kline missing symbol")
	}

	return model.Candle{
		Symbol: symbol,
		TS:     k.OpenTime,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  clos,
		Volume: vol,
	}, nil
}
