package kiro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/constants"
	apierrors "kiro2api-go/internal/errors"
)

var errFirstTokenTimeout = errors.New("kiro: timed out waiting for first stream byte")

// GenerateAssistantResponse issues the streamed completion call. The caller
// owns the returned body; the first payload byte has already arrived when
// this returns, so decoding never blocks on establishment.
//
// Retry policy: 429 and 5xx back off base*2^attempt; a 403 forces one
// uncounted token refresh; transport errors back off like 5xx; a stalled
// establishment (no first byte within the first-token window) retries
// immediately up to its own cap and exhausts as 504. Other statuses map to
// an error without retry. Nothing is retried after the first body byte.
func (c *Client) GenerateAssistantResponse(ctx context.Context, sel *auth.Selection, payload []byte) (*http.Response, error) {
	url := c.apiBase() + "/generateAssistantResponse"
	return c.doWithRetry(ctx, sel, http.MethodPost, url, payload, true)
}

func (c *Client) doWithRetry(ctx context.Context, sel *auth.Selection, method, url string, payload []byte, streaming bool) (*http.Response, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	baseDelay := time.Duration(c.cfg.BaseRetryDelaySeconds * float64(time.Second))
	if baseDelay <= 0 {
		baseDelay = constants.DefaultBaseRetryDelay
	}
	firstTokenTimeout := durationOrDefault(c.cfg.FirstTokenTimeoutSeconds, constants.DefaultFirstTokenTimeout)
	firstTokenRetries := c.cfg.FirstTokenMaxRetries
	if firstTokenRetries <= 0 {
		firstTokenRetries = constants.DefaultFirstTokenMaxRetries
	}

	refreshed := false
	firstTokenAttempts := 0

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := c.doOnce(ctx, sel, method, url, payload, streaming)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, errFirstTokenTimeout) {
				firstTokenAttempts++
				if firstTokenAttempts > firstTokenRetries {
					return nil, apierrors.New(http.StatusGatewayTimeout, "timeout", "timeout_error",
						fmt.Sprintf("Upstream produced no data within %s after %d attempts", firstTokenTimeout, firstTokenAttempts))
				}
				// Immediate retry, and not charged against the backoff budget.
				attempt--
				lastErr = err
				continue
			}
			var apiErr *apierrors.APIError
			if errors.As(err, &apiErr) {
				return nil, err
			}
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("upstream transport error; backing off")
			if serr := c.sleep(ctx, backoffDelay(baseDelay, attempt)); serr != nil {
				return nil, serr
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusForbidden && !refreshed:
			refreshed = true
			attempt-- // the refresh retry is free
			drainAndClose(resp)
			log.Warn("upstream 403; forcing token refresh")
			if _, ferr := c.auth.ForceRefresh(ctx, sel); ferr != nil {
				return nil, ferr
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			body := readLimited(resp)
			lastErr = apierrors.MapHTTPError(resp.StatusCode, body)
			log.WithFields(log.Fields{
				"status":  resp.StatusCode,
				"attempt": attempt,
			}).Warn("retryable upstream status; backing off")
			if serr := c.sleep(ctx, backoffDelay(baseDelay, attempt)); serr != nil {
				return nil, serr
			}
			continue

		default:
			body := readLimited(resp)
			return nil, apierrors.MapHTTPError(resp.StatusCode, body)
		}
	}

	msg := fmt.Sprintf("Upstream request failed after %d attempts", maxRetries)
	if lastErr != nil {
		msg += ": " + lastErr.Error()
	}
	return nil, apierrors.New(http.StatusBadGateway, "bad_gateway", "server_error", msg)
}

func (c *Client) doOnce(ctx context.Context, sel *auth.Selection, method, url string, payload []byte, streaming bool) (*http.Response, error) {
	token, err := c.auth.GetAccessToken(ctx, sel)
	if err != nil {
		return nil, err
	}

	reqCtx := ctx
	var cancel context.CancelFunc = func() {}
	if !streaming {
		timeout := durationOrDefault(c.cfg.RequestTimeoutSeconds, constants.DefaultRequestTimeout)
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	setHeaders(req, token.AccessToken)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", amzContentType)
		req.Header.Set("x-amz-target", amzTarget)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if !streaming {
		// The body is small; read it under the request budget and release
		// the timer with the connection.
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, constants.StreamMaxBufferSize))
		resp.Body.Close()
		cancel()
		if rerr != nil {
			return nil, rerr
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	// On the streaming path cancel is the no-op placeholder; calling it on
	// these returns only satisfies vet's lostcancel check.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cancel()
		return resp, nil
	}

	firstTokenTimeout := durationOrDefault(c.cfg.FirstTokenTimeoutSeconds, constants.DefaultFirstTokenTimeout)
	body, err := awaitFirstByte(ctx, resp.Body, firstTokenTimeout)
	if err != nil {
		cancel()
		return nil, err
	}
	readTimeout := durationOrDefault(c.cfg.StreamingReadTimeoutSeconds, constants.DefaultStreamingReadTimeout)
	resp.Body = &idleTimeoutBody{rc: body, timeout: readTimeout}
	cancel()
	return resp, nil
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

func readLimited(resp *http.Response) []byte {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body
}

// awaitFirstByte blocks until the body yields its first byte, the timeout
// fires, or the context ends. On success the byte is stitched back in
// front of the remaining body.
func awaitFirstByte(ctx context.Context, body io.ReadCloser, timeout time.Duration) (io.ReadCloser, error) {
	type readResult struct {
		n   int
		err error
	}
	buf := make([]byte, 1)
	ch := make(chan readResult, 1)
	go func() {
		n, err := body.Read(buf)
		ch <- readResult{n: n, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil && r.err != io.EOF {
			body.Close()
			return nil, r.err
		}
		return &stitchedBody{Reader: io.MultiReader(bytes.NewReader(buf[:r.n]), body), closer: body}, nil
	case <-timer.C:
		body.Close()
		return nil, errFirstTokenTimeout
	case <-ctx.Done():
		body.Close()
		return nil, ctx.Err()
	}
}

type stitchedBody struct {
	io.Reader
	closer io.Closer
}

func (b *stitchedBody) Close() error { return b.closer.Close() }

// idleTimeoutBody bounds each individual Read. A stalled upstream closes
// the connection instead of hanging the encoder forever.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	timer := time.AfterFunc(b.timeout, func() { b.rc.Close() })
	defer timer.Stop()
	return b.rc.Read(p)
}

func (b *idleTimeoutBody) Close() error { return b.rc.Close() }
