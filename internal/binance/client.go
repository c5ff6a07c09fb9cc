// Package binance fetches OHLCV klines from the Binance REST API and falls
// back to synthetic candles whenever the exchange cannot be reached.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
)

// DefaultPrice seeds synthetic data before any real price has been seen.
const DefaultPrice = 50000.0

// Client provides access to the Binance klines endpoint
type Client struct {
	apiURL         string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration

	mu        sync.Mutex
	rng       *rand.Rand
	lastPrice float64
	now       func() time.Time
}

// NewClient creates a new Binance client
func NewClient(apiURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration, seed int64) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		rng:            rand.New(rand.NewPCG(uint64(seed), 0x62696e61)),
		lastPrice:      DefaultPrice,
		now:            time.Now,
	}
}

// Fetch returns up to limit candles, oldest first. It never fails: on any
// transport or decoding error, or an empty response, it generates synthetic
// candles from the last known price and reports synthetic=true.
func (c *Client) Fetch(ctx context.Context, symbol, interval string, limit int) (candles []models.Candle, synthetic bool) {
	candles, err := c.FetchKlines(ctx, symbol, interval, limit)
	if err == nil && len(candles) > 0 {
		c.mu.Lock()
		c.lastPrice = candles[len(candles)-1].Close
		c.mu.Unlock()
		return candles, false
	}
	if err == nil {
		err = errors.New("empty response")
	}
	logger.Warn("Kline fetch for %s %s failed, using synthetic data: %v", symbol, interval, err)
	return c.Synthetic(interval, limit), true
}

// klineRow is one element of the klines response:
// [openTime, open, high, low, close, volume, closeTime, ...] with prices as strings.
type klineRow []json.RawMessage

// FetchKlines queries the klines endpoint without any fallback.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}
	defer resp.Body.Close()

	var rows []klineRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(row klineRow) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var vals [6]float64
	for i := range vals {
		v, err := parseNumber(row[i])
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i, err)
		}
		vals[i] = v
	}
	c := models.Candle{
		Time:   time.UnixMilli(int64(vals[0])),
		Open:   vals[1],
		High:   vals[2],
		Low:    vals[3],
		Close:  vals[4],
		Volume: vals[5],
	}
	if err := c.Validate(); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}

// parseNumber accepts both JSON numbers and numeric strings.
func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.Trim(string(raw), `"`)
	return strconv.ParseFloat(s, 64)
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelayBase):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Synthetic generates count one-interval candles ending at the current
// interval boundary, starting from the last known price with up to 2% drift
// per step.
func (c *Client) Synthetic(interval string, count int) []models.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()

	step := IntervalDuration(interval)
	end := c.now().Truncate(step)
	price := c.lastPrice
	candles := make([]models.Candle, 0, count)
	for i := 0; i < count; i++ {
		price *= 1 + (c.rng.Float64()*0.04 - 0.02)
		open := price * (1 + (c.rng.Float64()*0.02 - 0.01))
		high := max(price*(1+c.rng.Float64()*0.01), open)
		low := min(price*(1-c.rng.Float64()*0.01), open)
		candles = append(candles, models.Candle{
			Time:   end.Add(-time.Duration(count-i) * step),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: c.rng.Float64()*1000 + 500,
		})
	}
	if count > 0 {
		c.lastPrice = price
	}
	return candles
}

// LastPrice is the most recent close seen or generated.
func (c *Client) LastPrice() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPrice
}

// IntervalDuration converts a Binance interval such as "1m", "4h" or "1d" to a
// duration. Unknown intervals map to one minute.
func IntervalDuration(interval string) time.Duration {
	if len(interval) < 2 {
		return time.Minute
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
		'M': 30 * 24 * time.Hour,
	}[interval[len(interval)-1]]
	if unit == 0 {
		return time.Minute
	}
	return time.Duration(n) * unit
}
