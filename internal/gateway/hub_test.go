package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

// TestPublishEnvelopeFormat verifies the hand-crafted JSON envelope
// matches the expected structure:
// {"channel":"...","data":...,"ts":"...","seq":N,"channel_seq":N}
func TestPublishEnvelopeFormat(t *testing.T) {
	h := NewHub(nil)
	channel := "candle:1m:BTCUSDT"
	data := []byte(`{"symbol":"BTCUSDT","ts":1700000000000,"open":100,"high":105,"low":99,"close":103,"volume":500}`)

	h.Publish(channel, data)

	envelopes := h.GetReplayRange(channel, 1, 1)
	if len(envelopes) != 1 {
		t.Fatalf("expected 1 buffered envelope, got %d", len(envelopes))
	}

	var env envelope
	if err := json.Unmarshal(envelopes[0], &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, envelopes[0])
	}

	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != 1 || env.ChannelSeq != 1 {
		t.Errorf("seq: got (%d,%d), want (1,1)", env.Seq, env.ChannelSeq)
	}

	// Data should round-trip as a candle
	var candle map[string]interface{}
	if err := json.Unmarshal(env.Data, &candle); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if _, ok := candle["ts"]; !ok {
		t.Error("data missing 'ts' field")
	}

	if _, err := time.Parse(time.RFC3339Nano, env.TS); err != nil {
		t.Errorf("ts is not valid RFC3339Nano: %v", err)
	}
}

// TestPublish_PerChannelSeq verifies that per-channel seq tracks
// independently across channels while the global seq keeps counting.
func TestPublish_PerChannelSeq(t *testing.T) {
	h := NewHub(nil)
	channelA := "candle:1m:BTCUSDT"
	channelB := "ind:SMA_20:1m:BTCUSDT"
	data := []byte(`{}`)

	for i := 0; i < 3; i++ {
		h.Publish(channelA, data)
	}
	for i := 0; i < 2; i++ {
		h.Publish(channelB, data)
	}

	if got := h.GetChannelSeq(channelA); got != 3 {
		t.Errorf("channelA seq: got %d, want 3", got)
	}
	if got := h.GetChannelSeq(channelB); got != 2 {
		t.Errorf("channelB seq: got %d, want 2", got)
	}

	// Global seq should be 5 — check the last envelope on channel B
	envelopes := h.GetReplayRange(channelB, 2, 2)
	if len(envelopes) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(envelopes))
	}
	var env envelope
	if err := json.Unmarshal(envelopes[0], &env); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if env.Seq != 5 {
		t.Errorf("global seq: got %d, want 5", env.Seq)
	}
	if env.ChannelSeq != 2 {
		t.Errorf("channel_seq: got %d, want 2", env.ChannelSeq)
	}
}

// TestPublish_ReplayRange verifies gap backfill over the replay buffer.
func TestPublish_ReplayRange(t *testing.T) {
	h := NewHub(nil)
	channel := "forming:5m:ETHUSDT"

	for i := 1; i <= 10; i++ {
		h.Publish(channel, []byte(`{}`))
	}

	envelopes := h.GetReplayRange(channel, 4, 7)
	if len(envelopes) != 4 {
		t.Fatalf("Range(4,7): expected 4 envelopes, got %d", len(envelopes))
	}
	for i, raw := range envelopes {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if want := int64(i + 4); env.ChannelSeq != want {
			t.Errorf("envelope[%d].channel_seq = %d, want %d", i, env.ChannelSeq, want)
		}
	}

	if got := h.GetReplayRange("unknown:1m:X", 1, 10); got != nil {
		t.Errorf("unknown channel should return nil, got %d entries", len(got))
	}
}

// TestChannelParsing tests the parseChannel function with various formats.
func TestChannelParsing(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		wantType string
		wantTF   string
		wantInd  string
		wantNil  bool
	}{
		{"candle_1m", "candle:1m:BTCUSDT", "candle", "1m", "", false},
		{"candle_1h", "candle:1h:ETHUSDT", "candle", "1h", "", false},
		{"forming_5m", "forming:5m:BTCUSDT", "forming", "5m", "", false},
		{"indicator_SMA", "ind:SMA_20:5m:BTCUSDT", "ind", "5m", "SMA_20", false},
		{"indicator_EMA", "ind:EMA_12:1h:ETHUSDT", "ind", "1h", "EMA_12", false},
		{"invalid_garbage", "garbage", "", "", "", true},
		{"invalid_short", "candle:1m", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parseChannel(tt.channel)
			if tt.wantNil {
				if parsed != nil {
					t.Errorf("expected nil, got %+v", parsed)
				}
				return
			}
			if parsed == nil {
				t.Fatal("expected non-nil parsed channel")
			}
			if parsed.chType != tt.wantType {
				t.Errorf("chType: got %q, want %q", parsed.chType, tt.wantType)
			}
			if parsed.tf != tt.wantTF {
				t.Errorf("tf: got %q, want %q", parsed.tf, tt.wantTF)
			}
			if tt.wantInd != "" && parsed.indName != tt.wantInd {
				t.Errorf("indName: got %q, want %q", parsed.indName, tt.wantInd)
			}
		})
	}
}
