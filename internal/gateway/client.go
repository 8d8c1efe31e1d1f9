package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"chartcore/internal/model"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "symbol:tf"
	subMu sync.RWMutex
	subs  map[string]*ClientSubscription
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into a single
			// WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var subMsg SubscribeMsg
			if err := json.Unmarshal(msg, &subMsg); err != nil {
				SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			c.handleSubscribe(subMsg)

		case "UNSUBSCRIBE":
			var unsubMsg UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsubMsg); err != nil {
				continue
			}
			c.handleUnsubscribe(unsubMsg)

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// handleSubscribe registers the subscription and answers with a snapshot
// built from the in-memory store.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if msg.Symbol == "" || msg.TF == "" {
		SendError(c, msg.ReqID, "symbol and tf are required")
		return
	}

	tf, err := model.ParseTimeframe(msg.TF)
	if err != nil {
		SendError(c, msg.ReqID, "unknown tf: "+msg.TF)
		return
	}

	store, ok := c.hub.store(msg.Symbol)
	if !ok {
		SendError(c, msg.ReqID, "unknown symbol: "+msg.Symbol)
		return
	}

	sub := &ClientSubscription{
		Symbol:     msg.Symbol,
		TF:         msg.TF,
		Indicators: msg.Indicators,
	}

	c.subMu.Lock()
	c.subs[sub.SubKey()] = sub
	c.subMu.Unlock()

	log.Printf("[gateway] client subscribed: symbol=%s tf=%s indicators=%v",
		msg.Symbol, msg.TF, msg.Indicators)

	candles, ok := store.Candles(tf)
	if !ok {
		SendError(c, msg.ReqID, "timeframe not maintained: "+msg.TF)
		return
	}

	limit := msg.History.Candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	sequences, _ := store.Sequences(tf)
	if len(msg.Indicators) > 0 {
		filtered := make(map[string][]float64, len(msg.Indicators))
		for _, name := range msg.Indicators {
			if seq, exists := sequences[name]; exists {
				filtered[name] = seq
			}
		}
		sequences = filtered
	}

	snap := SnapshotMsg{
		Type:       "snapshot",
		ReqID:      msg.ReqID,
		Symbol:     msg.Symbol,
		TF:         msg.TF,
		Candles:    candles,
		Indicators: sequences,
		Seq:        c.hub.GetChannelSeq(CandleChannel(tf, msg.Symbol)),
	}
	SendJSON(c, snap)
	log.Printf("[gateway] sent snapshot: symbol=%s tf=%s candles=%d indicators=%d",
		msg.Symbol, msg.TF, len(snap.Candles), len(snap.Indicators))
}

// handleUnsubscribe removes a subscription.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	sub := &ClientSubscription{Symbol: msg.Symbol, TF: msg.TF}
	c.subMu.Lock()
	delete(c.subs, sub.SubKey())
	c.subMu.Unlock()

	log.Printf("[gateway] client unsubscribed: symbol=%s tf=%s", msg.Symbol, msg.TF)
}

// matchesChannel reports whether this client should receive a message on
// the given envelope channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		// No subscriptions yet: receive everything (firehose mode)
		return true
	}

	parsed := parseChannel(channel)
	if parsed == nil {
		return true // non-data channel, always deliver
	}

	for _, sub := range c.subs {
		if sub.Symbol != parsed.symbol || sub.TF != parsed.tf {
			continue
		}
		if parsed.chType != "ind" {
			return true
		}
		// Indicator channel: empty list means all indicators
		if len(sub.Indicators) == 0 {
			return true
		}
		for _, name := range sub.Indicators {
			if name == parsed.indName {
				return true
			}
		}
	}
	return false
}

// parsedChannel holds the components of an envelope channel name.
type parsedChannel struct {
	chType  string // "candle", "forming", "ind"
	indName string // for ind channels: "SMA_20", "EMA_12"
	tf      string // timeframe label
	symbol  string
}

// parseChannel parses "candle:5m:BTCUSDT", "forming:5m:BTCUSDT" or
// "ind:SMA_20:5m:BTCUSDT".
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")

	switch {
	case len(parts) == 3 && (parts[0] == "candle" || parts[0] == "forming"):
		return &parsedChannel{chType: parts[0], tf: parts[1], symbol: parts[2]}
	case len(parts) == 4 && parts[0] == "ind":
		return &parsedChannel{chType: "ind", indName: parts[1], tf: parts[2], symbol: parts[3]}
	}
	return nil
}
