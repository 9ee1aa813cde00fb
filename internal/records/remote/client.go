// Package remote reads allowance records from the upstream claims REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/session"
)

// APIError is a non-2xx answer from the upstream API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return records.ErrUnauthorized
	case http.StatusForbidden:
		return records.ErrForbidden
	case http.StatusNotFound:
		if userScoped(e.Path) {
			return records.ErrUserNotFound
		}
	}
	return nil
}

// userScoped reports whether path addresses one user's records, where a 404
// means the user does not exist.
func userScoped(path string) bool {
	return strings.HasPrefix(path, "/users/") || strings.HasPrefix(path, "/miscellaneous/user/")
}

func (e *APIError) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	// RetryInterval is the wait before the first retry. It doubles per
	// attempt up to 5s. Defaults to 100ms; negative means no wait.
	RetryInterval time.Duration
	Logger        *log.Logger
}

type Client struct {
	baseURL    string
	http       *http.Client
	retries    int
	interval   time.Duration
	normalizer *records.Normalizer
	logger     *log.Logger
}

var _ records.Source = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.BaseURL)
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := cfg.Logger.WithComponent(log.ComponentRemote)
	return &Client{
		baseURL:    u.String() + "/api",
		http:       &http.Client{Timeout: cfg.Timeout},
		retries:    cfg.Retries,
		interval:   cfg.RetryInterval,
		normalizer: records.NewNormalizer(logger),
		logger:     logger,
	}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (core.User, string, error) {
	body := map[string]string{"email": email, "password": password}
	var resp records.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return core.User{}, "", fmt.Errorf("%w: %s", records.ErrInvalidCredentials, apiErr.Message)
		}
		return core.User{}, "", fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return core.User{}, "", fmt.Errorf("login: upstream returned no token")
	}
	user, err := resp.User.User()
	if err != nil {
		return core.User{}, "", fmt.Errorf("login: %w", err)
	}
	return user, resp.Token, nil
}

func (c *Client) History(ctx context.Context, sess *session.Session, userID string) (core.History, error) {
	var dto records.HistoryDTO
	path := "/users/" + url.PathEscape(userID) + "/history"
	if err := c.do(ctx, http.MethodGet, path, sess.BearerToken(), nil, &dto); err != nil {
		return core.History{}, fmt.Errorf("fetch history: %w", err)
	}
	return c.normalizer.History(dto), nil
}

func (c *Client) MiscClaims(ctx context.Context, sess *session.Session, userID string) ([]core.MiscClaim, error) {
	var dto []records.MiscDTO
	path := "/miscellaneous/user/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, sess.BearerToken(), nil, &dto); err != nil {
		return nil, fmt.Errorf("fetch miscellaneous claims: %w", err)
	}
	return c.normalizer.Misc(dto), nil
}

func (c *Client) Routes(ctx context.Context, sess *session.Session) ([]core.Route, error) {
	var dto []records.RouteDTO
	if err := c.do(ctx, http.MethodGet, "/routes", sess.BearerToken(), nil, &dto); err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}
	return c.normalizer.Routes(dto), nil
}

func (c *Client) Users(ctx context.Context, sess *session.Session) ([]core.User, error) {
	var dto []records.UserDTO
	if err := c.do(ctx, http.MethodGet, "/users", sess.BearerToken(), nil, &dto); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	return c.normalizer.Users(dto), nil
}

// do sends the request, retrying network failures and 5xx/429 answers up to
// c.retries times. Anything else is returned on the first failure.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.once(ctx, method, path, token, payload, out)
		if err != nil && !c.retryable(ctx, err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			attempt++
			c.logger.Warn("Upstream request failed, retrying",
				log.FieldMethod, method,
				log.FieldPath, path,
				"attempt", attempt,
				"backoff", wait,
				log.FieldError, err.Error())
		}))
	return err
}

func (c *Client) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	var decodeErr *decodeError
	return !errors.As(err, &decodeErr)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) once(ctx context.Context, method, path, token string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("Upstream request",
		log.FieldMethod, method,
		log.FieldPath, path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// errorMessage pulls "message" out of an error body, falling back to the
// status text.
func errorMessage(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return http.StatusText(resp.StatusCode)
}
