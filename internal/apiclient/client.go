// Package apiclient talks to the chess HTTP API over fasthttp.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-coach/pkg/chessdto"
)

const HeaderUserID = "X-User-Id"

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// APIError is a non-2xx answer. Code is the wire error code when the body
// carried one.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chess api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("chess api error: status=%d body=%s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given wire code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	userID  string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithUserID sets the X-User-Id sent with every request.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = strings.TrimSpace(id) }
}

// WithDialer replaces the TCP dialer, e.g. with an in-memory listener.
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 40 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 40 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Analyze(ctx context.Context, req chessdto.AnalyzePositionRequest) (*chessdto.Analysis, error) {
	var resp chessdto.AnalysisResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/analysis/position", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.Analysis == nil {
		return nil, errors.New("chess api: analysis missing from response")
	}
	return resp.Analysis, nil
}

func (c *Client) CreateGame(ctx context.Context, req chessdto.CreateGameRequest) (*chessdto.GameResponse, error) {
	var resp chessdto.GameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/game/create", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Move(ctx context.Context, gameID string, move chessdto.MoveInput) (*chessdto.GameResponse, error) {
	var resp chessdto.GameResponse
	req := chessdto.MoveRequest{GameID: gameID, Move: move}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/game/move", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Resign(ctx context.Context, gameID string) (*chessdto.Game, error) {
	var resp chessdto.GameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/game/"+url.PathEscape(gameID)+"/resign", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Game, nil
}

func (c *Client) Game(ctx context.Context, gameID string) (*chessdto.Game, error) {
	var resp chessdto.GameResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/game/"+url.PathEscape(gameID), nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Game, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]chessdto.Game, error) {
	path := "/api/game/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp chessdto.HistoryResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Games, nil
}

func (c *Client) Stats(ctx context.Context) (*chessdto.Stats, error) {
	var resp chessdto.StatsResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/stats", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// doJSON retries only transport failures and 5xx answers, and only when retry is set.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	for k, v := range c.requestHeaders() {
		req.Header.Set(k, v)
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = decodeAPIError(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) requestHeaders() map[string]string {
	out := make(map[string]string)
	if c.userID != "" {
		out[HeaderUserID] = c.userID
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				out[k] = v
			}
		}
	}
	return out
}

func decodeAPIError(status int, body []byte) *APIError {
	var er chessdto.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return &APIError{Status: status, Code: er.Error, Message: er.Message}
	}
	return &APIError{Status: status, Message: truncate(string(body), 512)}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
