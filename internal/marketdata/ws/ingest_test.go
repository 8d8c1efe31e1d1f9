package ws

import (
	"testing"
)

func TestParseKline(t *testing.T) {
	msg := []byte(`{
		"stream": "btcusdt@kline_1m",
		"data": {
			"e": "kline",
			"E": 1700000012345,
			"s": "BTCUSDT",
			"k": {
				"t": 1700000000000,
				"T": 1700000059999,
				"s": "BTCUSDT",
				"i": "1m",
				"o": "37000.10",
				"h": "37050.00",
				"l": "36990.50",
				"c": "37025.75",
				"v": "12.5",
				"x": false
			}
		}
	}`)

	c, err := ParseKline(msg)
	if err != nil {
		t.Fatalf("ParseKline: %v", err)
	}

	if c.Symbol != "BTCUSDT" {
		t.Errorf("symbol: got %q, want BTCUSDT", c.Symbol)
	}
	if c.TS != 1700000000000 {
		t.Errorf("ts: got %d, want 1700000000000", c.TS)
	}
	if c.Open != 37000.10 || c.High != 37050.00 || c.Low != 36990.50 || c.Close != 37025.75 {
		t.Errorf("OHLC mismatch: %+v", c)
	}
	if c.Volume != 12.5 {
		t.Errorf("volume: got %v, want 12.5", c.Volume)
	}
	if !c.Valid() {
		t.Error("parsed candle should satisfy OHLC invariants")
	}
}

func TestParseKline_RejectsNonKline(t *testing.T) {
	msg := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT"}}`)
	if _, err := ParseKline(msg); err == nil {
		t.Fatal("expected error for non-kline event")
	}
}

func TestParseKline_RejectsBadPrices(t *testing.T) {
	msg := []byte(`{
		"stream": "btcusdt@kline_1m",
		"data": {
			"e": "kline",
			"s": "BTCUSDT",
			"k": {"t": 1700000000000, "o": "not-a-number", "h": "1", "l": "1", "c": "1", "v": "0"}
		}
	}`)
	if _, err := ParseKline(msg); err == nil {
		t.Fatal("expected error for unparseable price")
	}
}

func TestStreamURL(t *testing.T) {
	ing, err := New(IngestConfig{
		BaseURL:  "wss://stream.binance.com:9443",
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		Interval: "1m",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m"
	if got := ing.streamURL(); got != want {
		t.Errorf("streamURL:\n got %s\nwant %s", got, want)
	}
}

func TestNew_RequiresSymbols(t *testing.T) {
	if _, err := New(IngestConfig{BaseURL: "wss://x"}); err == nil {
		t.Fatal("expected error for empty symbol list")
	}
}
