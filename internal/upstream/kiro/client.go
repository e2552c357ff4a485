// Package kiro is the HTTP engine for the upstream assistant service:
// endpoint derivation, mandatory headers, retry with backoff, and the
// split-timeout streaming establishment policy.
package kiro

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/config"
	"kiro2api-go/internal/constants"
	"kiro2api-go/internal/fingerprint"
)

const (
	amzContentType = "application/x-amz-json-1.0"
	amzTarget      = "AmazonCodeWhispererStreamingService.GenerateAssistantResponse"
)

// APIHost is the completion endpoint host for a region.
func APIHost(region string) string {
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com", region)
}

// QHost is the model-list endpoint host for a region.
func QHost(region string) string {
	return fmt.Sprintf("https://q.%s.amazonaws.com", region)
}

// Client issues authenticated calls against the upstream service. The
// transport is created lazily and recreated after Close.
type Client struct {
	cfg  config.UpstreamConfig
	auth *auth.Manager

	// Host overrides for tests; empty means region-derived.
	APIBase string
	QBase   string

	mu  sync.Mutex
	cli *http.Client

	sleep func(context.Context, time.Duration) error
}

func New(cfg config.UpstreamConfig, mgr *auth.Manager) *Client {
	return &Client{cfg: cfg, auth: mgr, sleep: sleepCtx}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   durationOrDefault(c.cfg.DialTimeoutSeconds, constants.DefaultDialTimeout),
				KeepAlive: constants.DefaultKeepAlive,
			}).DialContext,
			TLSHandshakeTimeout:   durationOrDefault(c.cfg.TLSHandshakeTimeoutSeconds, constants.DefaultTLSHandshakeTimeout),
			ResponseHeaderTimeout: durationOrDefault(c.cfg.ResponseHeaderTimeoutSeconds, constants.DefaultResponseHeaderTimeout),
			ExpectContinueTimeout: constants.DefaultExpectContinueTimeout,
			MaxIdleConns:          constants.BaseMaxIdleConns,
			MaxIdleConnsPerHost:   constants.BaseMaxIdleConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
		}
		// Timeout stays 0: streaming bodies outlive any fixed budget. The
		// non-streaming budget is applied per attempt via context.
		c.cli = &http.Client{Transport: tr, Timeout: 0}
	}
	return c.cli
}

// Close drops the transport. The next request recreates it.
func (c *Client) Close() {
	c.mu.Lock()
	if c.cli != nil {
		c.cli.CloseIdleConnections()
		c.cli = nil
	}
	c.mu.Unlock()
}

func (c *Client) apiBase() string {
	if c.APIBase != "" {
		return c.APIBase
	}
	return APIHost(c.cfg.Region)
}

func (c *Client) qBase() string {
	if c.QBase != "" {
		return c.QBase
	}
	return QHost(c.cfg.Region)
}

// setHeaders applies the headers mandatory on every upstream call.
func setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", "KiroIDE-0.7.45-"+fingerprint.Machine())
	req.Header.Set("x-kiro-machine-id", fingerprint.Machine())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
