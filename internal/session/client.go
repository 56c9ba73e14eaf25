// Package session is a typed client for the remote account service: login,
// registration, profile management and token validation.
package session

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

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"watchparty-service/internal/models"
)

const (
	DefaultBaseURL = "https://api.streamhive.icu"
	DefaultTimeout = 10 * time.Second

	authPrefix = "/api/v1/auth"
	maxRetries = 2
)

// Client talks to the account service. Calls that act on the current session
// attach the stored token; a 401 on any of them clears the store.
type Client struct {
	baseURL    string
	http       *http.Client
	store      TokenStore
	validate   *Validator
	newBackOff func() backoff.BackOff
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenStore replaces the default in-memory token store.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) { c.store = store }
}

// NewClient builds a Client for baseURL. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		store:      NewMemoryTokenStore(),
		validate:   NewValidator(),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health reports the remote service status.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.retry(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/health", "", nil, &out)
	})
	return out, err
}

// Login authenticates and stores the returned session.
func (c *Client) Login(ctx context.Context, req LoginRequest) (models.User, error) {
	if err := c.validate.Struct(req); err != nil {
		return models.User{}, err
	}
	return c.authenticate(ctx, authPrefix+"/login", req)
}

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := c.validate.Struct(req); err != nil {
		return models.User{}, err
	}
	return c.authenticate(ctx, authPrefix+"/register", req)
}

// CurrentUser returns the stored user, or nil when logged out.
func (c *Client) CurrentUser() *models.User {
	creds, err := c.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("loading session")
		return nil
	}
	return creds.User
}

// IsAuthenticated reports whether both a token and a user are stored.
func (c *Client) IsAuthenticated() bool {
	creds, err := c.store.Load()
	return err == nil && creds.Token != "" && creds.User != nil
}

// Profile fetches the current user's profile and refreshes the stored copy.
func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.retry(ctx, func() error {
		return c.authed(ctx, http.MethodGet, authPrefix+"/profile", nil, &user)
	})
	if err != nil {
		return models.User{}, err
	}
	c.saveUser(user)
	return user, nil
}

// UpdateProfile changes profile fields and refreshes the stored copy.
func (c *Client) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := c.validate.Struct(req); err != nil {
		return models.User{}, err
	}
	var user models.User
	if err := c.authed(ctx, http.MethodPut, authPrefix+"/profile", req, &user); err != nil {
		return models.User{}, err
	}
	c.saveUser(user)
	return user, nil
}

// ChangePassword replaces the account password.
func (c *Client) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return err
	}
	return c.authed(ctx, http.MethodPut, authPrefix+"/change-password", req, nil)
}

// DeleteAccount deletes the account and clears the stored session.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.authed(ctx, http.MethodDelete, authPrefix+"/account", nil, nil); err != nil {
		return err
	}
	return c.store.Clear()
}

// Logout forgets the stored session. The remote service is not contacted.
func (c *Client) Logout() error {
	return c.store.Clear()
}

// ValidateToken resolves token to its user without touching the stored
// session. It returns ErrUnauthorized for rejected tokens.
func (c *Client) ValidateToken(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrUnauthorized
	}
	var user models.User
	err := c.retry(ctx, func() error {
		return c.do(ctx, http.MethodGet, authPrefix+"/profile", token, nil, &user)
	})
	return user, err
}

func (c *Client) authenticate(ctx context.Context, path string, req any) (models.User, error) {
	var auth AuthResponse
	if err := c.do(ctx, http.MethodPost, path, "", req, &auth); err != nil {
		return models.User{}, err
	}
	if err := c.store.Save(Credentials{Token: auth.Token, User: &auth.User}); err != nil {
		return models.User{}, fmt.Errorf("save session: %w", err)
	}
	return auth.User, nil
}

// authed sends a request with the stored token and clears the store on 401.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	creds, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if creds.Token == "" {
		return ErrNotAuthenticated
	}
	err = c.do(ctx, method, path, creds.Token, body, out)
	if errors.Is(err, ErrUnauthorized) {
		if clearErr := c.store.Clear(); clearErr != nil {
			log.Warn().Err(clearErr).Msg("clearing rejected session")
		}
	}
	return err
}

func (c *Client) saveUser(user models.User) {
	creds, err := c.store.Load()
	if err != nil || creds.Token == "" {
		return
	}
	creds.User = &user
	if err := c.store.Save(creds); err != nil {
		log.Warn().Err(err).Msg("saving refreshed profile")
	}
}

// retry repeats idempotent calls on transport errors and 5xx responses.
func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return decode(resp.StatusCode, raw, out)
}

// decode unwraps the {success, message, data, errors} envelope.
func decode(status int, raw []byte, out any) error {
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && status < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return withMessage(ErrUnauthorized, env.Message)
	case status == http.StatusTooManyRequests:
		return withMessage(ErrRateLimited, env.Message)
	case len(env.Errors) > 0:
		return &ValidationError{Fields: env.Errors}
	case status >= 300 || !env.Success:
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &APIError{Status: status, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	data := []byte(env.Data)
	if len(data) == 0 {
		// health and similar responses carry their fields at the top level
		data = raw
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func withMessage(err error, msg string) error {
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
