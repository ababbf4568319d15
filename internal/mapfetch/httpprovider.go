package mapfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hudlink/internal/gpsfilter"
)

// DefaultMaxPngBytes bounds the response body read from the provider.
const DefaultMaxPngBytes = 200 * 1024

// DefaultProviderTimeout bounds a single fetch attempt.
const DefaultProviderTimeout = 10 * time.Second

// HTTPProviderConfig configures the default MapImageProvider.
type HTTPProviderConfig struct {
	URL         string
	User        string
	Password    string
	MaxPngBytes int
	Timeout     time.Duration
}

func (c HTTPProviderConfig) withDefaults() HTTPProviderConfig {
	if c.MaxPngBytes <= 0 {
		c.MaxPngBytes = DefaultMaxPngBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProviderTimeout
	}
	return c
}

// HTTPProvider is the default MapImageProvider: it POSTs the track as JSON
// and reads back a PNG body, capped at MaxPngBytes.
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	client *http.Client
}

// NewHTTPProvider returns an HTTPProvider bound to cfg.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	cfg = cfg.withDefaults()
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type trackRequest struct {
	Points [][2]float64 `json:"points"`
}

// FetchTrackImage implements MapImageProvider.
func (p *HTTPProvider) FetchTrackImage(ctx context.Context, points []gpsfilter.Point) ([]byte, error) {
	body := trackRequest{Points: make([][2]float64, len(points))}
	for i, pt := range points {
		body.Points[i] = [2]float64{pt.LonDeg, pt.LatDeg}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("mapfetch: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("mapfetch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.User != "" {
		req.SetBasicAuth(p.cfg.User, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapfetch: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapfetch: provider returned status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, int64(p.cfg.MaxPngBytes)+1)
	png, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("mapfetch: read body: %w", err)
	}
	if len(png) > p.cfg.MaxPngBytes {
		return nil, fmt.Errorf("mapfetch: provider body exceeds %d bytes", p.cfg.MaxPngBytes)
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("mapfetch: provider returned an empty body")
	}
	return png, nil
}
