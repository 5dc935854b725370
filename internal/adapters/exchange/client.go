package exchange

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
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/racebot/internal/ports"
	"golang.org/x/time/rate"
)

const (
	maxRetries       = 3
	defaultRetryWait = 500 * time.Millisecond

	headerAppKey  = "X-Application"
	headerSession = "X-Authentication"
)

var (
	_ ports.Exchange = (*Client)(nil)
	_ ports.Session  = (*Client)(nil)
)

// errSessionExpired is returned by doWithRetry on 401 so call can log in again.
var errSessionExpired = errors.New("session expired")

// Config holds the connection settings of the exchange client.
type Config struct {
	BaseURL       string
	AppKey        string
	Username      string
	Password      string
	RatePerSecond float64
	Timeout       time.Duration
	RetryWait     time.Duration // base of the exponential retry backoff
}

// Client is the JSON/HTTP exchange client with rate limiting, retries and
// session handling. It implements ports.Exchange and ports.Session.
type Client struct {
	http      *http.Client
	baseURL   string
	appKey    string
	username  string
	password  string
	limiter   *rate.Limiter
	retryWait time.Duration

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client. Zero values in cfg get sane defaults.
func NewClient(cfg Config) *Client {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	burst := max(1, int(cfg.RatePerSecond))
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		appKey:    cfg.AppKey,
		username:  cfg.Username,
		password:  cfg.Password,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		retryWait: cfg.RetryWait,
	}
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setSessionToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// call posts body to path and decodes the answer into out. An expired session
// triggers one re-login and one retry.
func (c *Client) call(ctx context.Context, path string, body, out any) error {
	err := c.post(ctx, path, body, out)
	if !errors.Is(err, errSessionExpired) {
		return err
	}
	slog.Info("exchange: session expired, logging in again", "path", path)
	if err := c.Login(ctx); err != nil {
		return err
	}
	return c.post(ctx, path, body, out)
}

// post sends a JSON POST with rate limiting and retries.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	url := c.baseURL + path
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set(headerAppKey, c.appKey)
		if tok := c.sessionToken(); tok != "" {
			req.Header.Set(headerSession, tok)
		}
		return c.http.Do(req)
	}, out)
}

// doWithRetry runs fn with exponential backoff. Transport failures that
// survive every retry are wrapped in ports.ErrNetwork.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == maxRetries {
				return fmt.Errorf("%w: request failed after %d retries: %w", ports.ErrNetwork, maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("exchange: rate limited", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return errSessionExpired
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: decode response: %w", ports.ErrNetwork, err)
			}
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, honouring the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
