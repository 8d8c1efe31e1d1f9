package gateway

import (
	"encoding/json"
	"log"

	"chartcore/internal/model"
)

// SubscribeMsg is the client → server subscription request.
type SubscribeMsg struct {
	Type       string   `json:"type"` // "SUBSCRIBE"
	ReqID      string   `json:"req_id,omitempty"`
	Symbol     string   `json:"symbol"`
	TF         string   `json:"tf"` // "1m", "5m", ...
	Indicators []string `json:"indicators,omitempty"`
	History    struct {
		Candles int `json:"candles"`
	} `json:"history"`
}

// UnsubscribeMsg is the client → server unsubscribe request.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // "UNSUBSCRIBE"
	Symbol string `json:"symbol"`
	TF     string `json:"tf"`
}

// ClientSubscription is a stored (symbol, tf) subscription.
type ClientSubscription struct {
	Symbol     string
	TF         string
	Indicators []string
}

// SubKey returns the map key for this subscription.
func (s *ClientSubscription) SubKey() string {
	return s.Symbol + ":" + s.TF
}

// SnapshotMsg is the server → client response to SUBSCRIBE: full candle
// history plus committed indicator sequences, so the client can render the
// chart before the first live update arrives.
type SnapshotMsg struct {
	Type       string               `json:"type"` // "snapshot"
	ReqID      string               `json:"req_id,omitempty"`
	Symbol     string               `json:"symbol"`
	TF         string               `json:"tf"`
	Candles    []model.Candle       `json:"candles"`
	Indicators map[string][]float64 `json:"indicators"`
	Seq        int64                `json:"seq"` // channel seq at snapshot time
}

// ErrorMsg is the server → client error response.
type ErrorMsg struct {
	Type  string `json:"type"` // "error"
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}

// SendJSON marshals v and queues it on the client's send channel, dropping
// if the client is saturated.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// SendError sends an error message to the client.
func SendError(c *Client, reqID, msg string) {
	SendJSON(c, ErrorMsg{Type: "error", ReqID: reqID, Error: msg})
}
