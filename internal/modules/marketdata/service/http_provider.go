package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paper_bot/internal/models"
	"paper_bot/internal/modules/config"
	keypool "paper_bot/internal/modules/keypool/service"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// HTTPProvider talks to the upstream vendor over plain JSON endpoints.
// Transport errors retry a small fixed number of times; HTTP statuses never
// retry here, key rotation on 429 stays with the key pool.
type HTTPProvider struct {
	http    *http.Client
	baseURL string
	retries int
}

func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	return &HTTPProvider{
		http:    &http.Client{Timeout: cfg.ProviderTimeout()},
		baseURL: strings.TrimRight(cfg.Provider.BaseURL, "/"),
		retries: cfg.Provider.Retries,
	}
}

type priceResponse struct {
	Code  string  `json:"code"`
	Price float64 `json:"price"`
}

type candleRow struct {
	OpenTimeMs  int64    `json:"openTimeMs"`
	Open        float64  `json:"open"`
	High        float64  `json:"high"`
	Low         float64  `json:"low"`
	Close       float64  `json:"close"`
	Volume      *float64 `json:"volume"`
	CloseTimeMs int64    `json:"closeTimeMs"`
}

func (p *HTTPProvider) LastPrice(ctx context.Context, code string) (float64, bool, error) {
	body, status, err := p.get(ctx, "/v1/price?code="+url.QueryEscape(code))
	if err != nil {
		return 0, false, err
	}
	if status == http.StatusNotFound {
		return 0, false, nil
	}
	if status/100 != 2 {
		return 0, false, errors.Errorf("price %s: http %d", code, status)
	}

	var resp priceResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return 0, false, errors.Wrap(err, "decode price")
	}
	if resp.Price <= 0 {
		return 0, false, nil
	}
	return resp.Price, true, nil
}

func (p *HTTPProvider) Candles(ctx context.Context, code string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	path := fmt.Sprintf("/v1/candles?code=%s&tf=%s&limit=%d", url.QueryEscape(code), tf, limit)
	body, status, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status/100 != 2 {
		return nil, errors.Errorf("candles %s %s: http %d", code, tf, status)
	}

	var rows []candleRow
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return nil, errors.Wrap(err, "decode candles")
	}

	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Candle{
			Timeframe: tf,
			OpenTime:  time.UnixMilli(r.OpenTimeMs).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			CloseTime: time.UnixMilli(r.CloseTimeMs).UTC(),
		})
	}
	return out, nil
}

// BatchQuotes implements FxQuotePool. 429 responses come back as
// *keypool.RateLimitError so WithFailover can cool the key and rotate.
func (p *HTTPProvider) BatchQuotes(ctx context.Context, key string, codes []string) (map[string]float64, error) {
	path := "/v1/quotes?codes=" + url.QueryEscape(strings.Join(codes, ",")) + "&apikey=" + url.QueryEscape(key)
	body, status, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		return nil, &keypool.RateLimitError{Key: key, Cause: errors.Errorf("http %d", status)}
	}
	if status/100 != 2 {
		return nil, errors.Errorf("quotes: http %d", status)
	}

	var resp []priceResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode quotes")
	}

	out := make(map[string]float64, len(resp))
	for _, q := range resp {
		if q.Price > 0 {
			out[q.Code] = q.Price
		}
	}
	return out, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
		if err != nil {
			return nil, 0, err
		}
		resp, err := p.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		rb, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return rb, resp.StatusCode, nil
	}
	return nil, 0, errors.Wrapf(lastErr, "get %s: %d attempts", path, p.retries+1)
}

const retryBackoff = 200 * time.Millisecond
