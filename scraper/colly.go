package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
)

// CollyRenderer fetches pages and documents over plain HTTP.
type CollyRenderer struct {
	collector *colly.Collector
}

// NewCollyRenderer builds a synchronous collector configured from cfg.
func NewCollyRenderer(cfg *config.Config) *CollyRenderer {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.MaxBodySize = 0
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &CollyRenderer{collector: collector}
}

// Render visits url once. Responses outside 2xx come back as *StatusError.
func (r *CollyRenderer) Render(ctx context.Context, url string, kind ContentKind) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := r.collector.Clone()
	c.Context = ctx

	var (
		body   []byte
		status int
		cbErr  error
	)
	c.OnResponse(func(resp *colly.Response) {
		status = resp.StatusCode
		body = resp.Body
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil {
			status = resp.StatusCode
		}
		cbErr = err
	})

	visitErr := c.Visit(url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if status != 0 && (status < http.StatusOK || status >= http.StatusMultipleChoices) {
		return nil, &StatusError{Code: status, URL: url}
	}
	if cbErr != nil {
		return nil, cbErr
	}
	if visitErr != nil {
		return nil, visitErr
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty %s body from %s", kind, url)
	}
	return body, nil
}
