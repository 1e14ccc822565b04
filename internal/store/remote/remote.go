// Package remote reads and writes models through the model routes of a
// running doccat server:
//
//	GET /v1/models          {"models": ["a", "b"]}
//	GET /v1/models/{name}   serialized model
//	PUT /v1/models/{name}   serialized model
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/store"
)

const contentType = "application/octet-stream"

func init() {
	store.Register("remote", func(cfg store.Config) (store.Store, error) {
		return New(cfg.Path, cfg.Token)
	})
}

// Option configures a remote Store.
type Option func(*client)

// WithTimeout sets the per-request timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *client) { c.httpClient.Timeout = d }
}

// WithBackoff sets the first retry delay. Default: 1s.
func WithBackoff(d time.Duration) Option {
	return func(c *client) { c.backoff = d }
}

// Store is a model store backed by a doccat server.
type Store struct {
	c *client
}

// New targets the server at baseURL. token may be empty.
func New(baseURL, token string, opts ...Option) (*Store, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote store: invalid base url %q", baseURL)
	}
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Store{c: c}, nil
}

// ListResponse is the body of GET /v1/models.
type ListResponse struct {
	Models []string `json:"models"`
}

func (s *Store) Save(ctx context.Context, name string, m *maxent.Model) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("remote store: %w", err)
	}
	if _, err := s.c.do(ctx, http.MethodPut, modelPath(name), contentType, data); err != nil {
		return fmt.Errorf("remote store: save %s: %w", name, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (*maxent.Model, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	data, err := s.c.do(ctx, http.MethodGet, modelPath(name), "", nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("remote store: load %s: %w", name, err)
	}
	m, err := maxent.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("remote store: %s: %w", name, err)
	}
	return m, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	data, err := s.c.do(ctx, http.MethodGet, "/v1/models", "", nil)
	if err != nil {
		return nil, fmt.Errorf("remote store: list: %w", err)
	}
	var resp ListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("remote store: list: %w", err)
	}
	return resp.Models, nil
}

func (s *Store) Close() error {
	s.c.httpClient.CloseIdleConnections()
	return nil
}

func modelPath(name string) string {
	return "/v1/models/" + url.PathEscape(name)
}
