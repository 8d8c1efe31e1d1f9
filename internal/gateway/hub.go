// Package gateway serves chart clients over WebSocket. Each client gets a
// full snapshot on SUBSCRIBE (candle history + indicator sequences from
// the in-memory store) followed by incremental envelopes: closed candles,
// forming-bucket updates and indicator values. Per-channel sequence
// numbers plus a replay buffer let clients detect and backfill gaps.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"chartcore/internal/marketdata/multitf"
	"chartcore/internal/model"

	"github.com/gorilla/websocket"
)

const replayBufCapacity = 500

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Charts are served to browsers on arbitrary origins in dev.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub manages WebSocket clients and fans out envelopes built from store
// hook events. It also answers snapshot requests from the per-symbol
// stores.
type Hub struct {
	stores map[string]*multitf.Store // keyed by symbol

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// Metrics callbacks (optional)
	OnClientCount func(n int)
	OnBroadcast   func()
	OnSlowDrop    func()
}

// NewHub creates a Hub serving the given per-symbol stores.
func NewHub(stores map[string]*multitf.Store) *Hub {
	return &Hub{
		stores:      stores,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// CandleChannel returns the envelope channel for closed candles.
func CandleChannel(tf model.Timeframe, symbol string) string {
	return "candle:" + tf.String() + ":" + symbol
}

// FormingChannel returns the envelope channel for forming-bucket updates.
func FormingChannel(tf model.Timeframe, symbol string) string {
	return "forming:" + tf.String() + ":" + symbol
}

// IndicatorChannel returns the envelope channel for one indicator.
func IndicatorChannel(name, tf, symbol string) string {
	return "ind:" + name + ":" + tf + ":" + symbol
}

// Publish sends data on a channel to all subscribed clients. The envelope
// JSON is hand-crafted: this runs for every base candle across every lane
// and json.Marshal is an order of magnitude slower.
func (h *Hub) Publish(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(replayBufCapacity)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			if h.OnSlowDrop != nil {
				h.OnSlowDrop()
			}
		}
	}
	if h.OnBroadcast != nil {
		h.OnBroadcast()
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers the
// client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]*ClientSubscription),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// GetReplayRange returns buffered envelopes for a channel in
// [fromSeq, toSeq]. Used by the /api/missed endpoint for gap backfill.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// HandleMissed serves GET /api/missed?channel=&from=&to= with a JSON array
// of buffered envelopes.
func (h *Hub) HandleMissed(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil {
		http.Error(w, "channel, from, to are required", http.StatusBadRequest)
		return
	}

	envelopes := h.GetReplayRange(channel, from, to)

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte{'['})
	for i, e := range envelopes {
		if i > 0 {
			w.Write([]byte{','})
		}
		w.Write(e)
	}
	w.Write([]byte{']'})
}

// store returns the store for a symbol, if served.
func (h *Hub) store(symbol string) (*multitf.Store, bool) {
	s, ok := h.stores[symbol]
	return s, ok
}
