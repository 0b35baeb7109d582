package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/retry"
)

// ErrNotFound is returned when the server answers 404
var ErrNotFound = errors.New("not found")

// Client reads a running search's status server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      retry.Config
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithToken sends token as a bearer token on every request
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithTLSConfig sets the TLS configuration used for https URLs
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithRetry overrides the retry policy for transient failures
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// NewClient creates a client for the status server at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.Config{
			MaxRetries:     2,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2.0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns the decoded /health body. A degraded server is not an error.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := c.get(ctx, "/health", &body, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return body, nil
}

// Trials returns the active run's trials, optionally filtered by status
func (c *Client) Trials(ctx context.Context, status models.TrialStatus) (*TrialsResponse, error) {
	path := "/trials"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp TrialsResponse
	if err := c.get(ctx, path, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Leaderboard returns the active run's ranking, at most limit entries when limit > 0
func (c *Client) Leaderboard(ctx context.Context, limit int) (*LeaderboardResponse, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp LeaderboardResponse
	if err := c.get(ctx, path, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Runs returns stored runs, newest first
func (c *Client) Runs(ctx context.Context, limit int) ([]*models.Run, error) {
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp RunsResponse
	if err := c.get(ctx, path, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run returns one stored run
func (c *Client) Run(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := c.get(ctx, "/runs/"+url.PathEscape(id), &run, http.StatusOK); err != nil {
		return nil, err
	}
	return &run, nil
}

// get fetches path and decodes the body into out. Connection errors and 5xx
// answers outside accept are retried; everything else fails immediately.
func (c *Client) get(ctx context.Context, path string, out interface{}, accept ...int) error {
	return retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach status server: %w", err)
		}
		defer resp.Body.Close()

		if !accepted(resp.StatusCode, accept) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("GET %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode == http.StatusNotFound {
				err = fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			if resp.StatusCode >= 500 {
				return err
			}
			return retry.Permanent(err)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode %s: %w", path, err))
		}
		return nil
	})
}

func accepted(code int, accept []int) bool {
	for _, a := range accept {
		if code == a {
			return true
		}
	}
	return false
}
