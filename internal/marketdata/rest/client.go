// Package rest fetches historical klines over the exchange REST API,
// used to bootstrap series before the live stream takes over.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chartcore/internal/model"
)

// Client is a minimal klines REST client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a REST client for the given base URL,
// e.g. "https://api.binance.com".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchKlines fetches up to limit historical klines for a symbol and
// interval ("1m", "5m", ...), oldest first. startTime <= 0 means "the most
// recent limit klines".
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, startTime int64, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if startTime > 0 {
		q.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	reqURL := c.baseURL + "/api/v3/klines?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: fetch klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest: klines %s %s: status %d: %s", symbol, interval, resp.StatusCode, body)
	}

	candles, err := ParseKlines(body, symbol)
	if err != nil {
		return nil, err
	}

	log.Printf("[rest] fetched %d klines for %s %s", len(candles), symbol, interval)
	return candles, nil
}

// ParseKlines parses the klines response: an array of arrays
// [openTime, "open", "high", "low", "close", "volume", closeTime, ...].
func ParseKlines(body []byte, symbol string) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("rest: unmarshal klines: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("rest: kline row %d has %d fields, want >= 6", i, len(row))
		}

		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("rest: kline row %d open time: %w", i, err)
		}

		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("rest: kline row %d field %d: %w", i, j+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("rest: kline row %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}

		candles = append(candles, model.Candle{
			Symbol: symbol,
			TS:     openTime,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return candles, nil
}
