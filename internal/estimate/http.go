package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultLocationURL = "https://api.wheretheiss.at/v1/satellites/25544"
	DefaultTLEURL      = "https://celestrak.org/NORAD/elements/gp.php?CATNR=25544&FORMAT=tle"

	defaultHTTPTimeout = 20 * time.Second
	maxBodyBytes       = 1 << 20
)

// fetcher is a small HTTP GET helper shared by the remote clients. All requests
// go through one token bucket so the public APIs are not hammered by the
// telemetry loop and the watcher at the same time.
type fetcher struct {
	hc      *http.Client
	limiter *rate.Limiter
}

func newFetcher(hc *http.Client, perSec float64) *fetcher {
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSec > 0 {
		burst := int(perSec)
		if burst < 2 {
			burst = 2
		}
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return &fetcher{hc: hc, limiter: lim}
}

func (f *fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set("User-Agent", "isswatch")

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

func (f *fetcher) getJSON(ctx context.Context, url string, v any) error {
	body, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
