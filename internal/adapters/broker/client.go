// Package broker implements the venue adapters behind ports.Broker and the
// router that picks one per agent.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 10 * time.Second

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// StatusError es una respuesta HTTP 4xx de un venue.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Body)
}

// client es el HTTP client compartido por los venues: rate limiting, timeout
// y retries. Solo los GET se reintentan; una orden nunca se reenvía.
type client struct {
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(ratePerSec float64, burst int) *client {
	return &client{
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// get hace un GET con headers dados, rate limiting y retries.
func (c *client) get(ctx context.Context, url string, header http.Header, out any) error {
	return c.doWithRetry(ctx, maxRetries, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		setHeaders(req, header)
		return c.http.Do(req)
	}, out)
}

// post envía body ya serializado. Sin retries.
func (c *client) post(ctx context.Context, url string, header http.Header, body []byte, out any) error {
	return c.doWithRetry(ctx, 0, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		setHeaders(req, header)
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	}, out)
}

func setHeaders(req *http.Request, header http.Header) {
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
}

// doWithRetry ejecuta fn con backoff exponencial. Los fallos de red y las
// respuestas ilegibles se envuelven en domain.ErrTransport.
func (c *client) doWithRetry(ctx context.Context, retries int, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w: %w", domain.ErrTransport, err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == retries {
				return fmt.Errorf("request failed after %d retries: %w: %w", retries, domain.ErrTransport, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == retries {
				return fmt.Errorf("server status %d after %d retries: %w", resp.StatusCode, retries, domain.ErrTransport)
			}
			slog.Warn("venue retry", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w: %w", domain.ErrTransport, err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", retries, domain.ErrTransport)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// isUnauthorized reports an HTTP 401 from the venue.
func isUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}
