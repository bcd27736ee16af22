package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ClientConfig holds upstream client configuration
type ClientConfig struct {
	RequestTimeout time.Duration `json:"request_timeout"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	UserAgent      string        `json:"user_agent"`
}

// Client fetches the moderation-log feed over HTTP with a bounded
// retry budget. Exhausting the budget is a terminal failure for the
// current poll cycle, never for the process.
type Client struct {
	config     *ClientConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewClient creates a new upstream client
func NewClient(config *ClientConfig) *Client {
	return &Client{
		config: config,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Fetch performs an HTTP GET and returns the full response body.
// Non-200 responses and transport errors are retried up to the
// configured budget with a fixed delay between attempts.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	host := hostOf(rawURL)

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.config.RetryDelay):
			case <-ctx.Done():
				return nil, utils.NewAppError(utils.ErrCodeFetch, "Fetch canceled", ctx.Err().Error())
			}
		}

		body, status, err := c.fetchOnce(ctx, rawURL)
		if err == nil && status == http.StatusOK {
			return body, nil
		}

		fields := logrus.Fields{
			"host":    host,
			"attempt": attempt + 1,
			"delay":   c.config.RetryDelay,
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["status"] = status
		}
		c.logger.WithFields(fields).Warn("Upstream fetch failed, will retry")
	}

	c.logger.WithFields(logrus.Fields{
		"host":    host,
		"retries": c.config.RetryAttempts,
	}).Warn("Giving up on upstream fetch for this cycle")

	return nil, utils.NewAppError(utils.ErrCodeFetch, "Retry budget exhausted", host)
}

// fetchOnce performs a single GET attempt.
func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// A truncated body is treated like a failed attempt: the
		// caller gets the full payload or nothing.
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
