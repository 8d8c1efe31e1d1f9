package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const klinesBody = `[
	[1700000000000, "37000.10", "37050.00", "36990.50", "37025.75", "12.5", 1700000059999, "462821.1", 350, "6.2", "229511.0", "0"],
	[1700000060000, "37025.75", "37100.00", "37020.00", "37090.00", "8.25", 1700000119999, "305992.5", 210, "4.0", "148360.0", "0"]
]`

func TestParseKlines(t *testing.T) {
	candles, err := ParseKlines([]byte(klinesBody), "BTCUSDT")
	if err != nil {
		t.Fatalf("ParseKlines: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	c := candles[0]
	if c.Symbol != "BTCUSDT" {
		t.Errorf("symbol: got %q", c.Symbol)
	}
	if c.TS != 1700000000000 {
		t.Errorf("ts: got %d", c.TS)
	}
	if c.Open != 37000.10 || c.High != 37050.00 || c.Low != 36990.50 || c.Close != 37025.75 || c.Volume != 12.5 {
		t.Errorf("OHLCV mismatch: %+v", c)
	}

	if candles[1].TS != 1700000060000 {
		t.Errorf("second ts: got %d", candles[1].TS)
	}
}

func TestParseKlines_ShortRow(t *testing.T) {
	if _, err := ParseKlines([]byte(`[[1700000000000, "1", "2"]]`), "X"); err == nil {
		t.Fatal("expected error for short row")
	}
}

func TestParseKlines_BadPrice(t *testing.T) {
	body := `[[1700000000000, "abc", "2", "1", "1.5", "10", 1700000059999]]`
	if _, err := ParseKlines([]byte(body), "X"); err == nil {
		t.Fatal("expected error for bad price")
	}
}

func TestFetchKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "500" {
			t.Errorf("query: got %v", q)
		}
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := New(srv.URL)
	candles, err := c.FetchKlines(context.Background(), "BTCUSDT", "1m", 0, 500)
	if err != nil {
		t.Fatalf("FetchKlines: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
}

func TestFetchKlines_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.FetchKlines(context.Background(), "NOPE", "1m", 0, 10); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}
