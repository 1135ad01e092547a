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

	"go.uber.org/zap"
)

const defaultTimeout = time.Minute

// ErrorKind tags a fetch failure for uniform handling downstream.
type ErrorKind string

const (
	// KindConnection covers IO failures before a response arrived.
	KindConnection ErrorKind = "connection"
	// KindClient covers 4xx responses.
	KindClient ErrorKind = "client"
	// KindServer covers 5xx responses.
	KindServer ErrorKind = "server"
	// KindCancelled covers cooperative aborts.
	KindCancelled ErrorKind = "cancelled"
	// KindOther covers decoding and other unexpected failures.
	KindOther ErrorKind = "other"
)

// FetchError is the only error type the remote boundary lets escape; raw
// transport errors never propagate past it.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote fetch %s (status %d): %v", e.Kind, e.StatusCode, e.cause)
	}
	return fmt.Sprintf("remote fetch %s: %v", e.Kind, e.cause)
}

func (e *FetchError) Unwrap() error {
	return e.cause
}

// KindOf extracts the error kind from a (possibly wrapped) FetchError.
// Errors that never passed the remote boundary report KindOther.
func KindOf(err error) ErrorKind {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return KindOther
}

// IsNotFound reports whether the error is a 404 from the upstream.
func IsNotFound(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) &&
		fetchErr.Kind == KindClient && fetchErr.StatusCode == http.StatusNotFound
}

var (
	errMissingBaseURL  = errors.New("upstream base url is required")
	errEmptyResourceID = errors.New("resource identifier is required")
)

// ClientConfig configures the upstream catalog client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the upstream quotes catalog API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	trimmed := strings.TrimSpace(cfg.BaseURL)
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url: %q", trimmed)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{baseURL: base, http: httpClient, logger: logger}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return &FetchError{Kind: KindOther, cause: err}
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &FetchError{Kind: KindCancelled, cause: context.Canceled}
		}
		return &FetchError{Kind: KindConnection, cause: err}
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		kind := KindClient
		if response.StatusCode >= 500 {
			kind = KindServer
		}
		c.logger.Debug("upstream request failed",
			zap.String("url", target.String()),
			zap.Int("status", response.StatusCode))
		return &FetchError{
			Kind:       kind,
			StatusCode: response.StatusCode,
			cause:      fmt.Errorf("unexpected status %d", response.StatusCode),
		}
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return &FetchError{Kind: KindOther, cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Quote fetches one quote by identifier. Used by the detail path; the result
// is upserted outside any origin scope.
func (c *Client) Quote(ctx context.Context, id string) (QuoteDTO, error) {
	if strings.TrimSpace(id) == "" {
		return QuoteDTO{}, &FetchError{Kind: KindOther, cause: errEmptyResourceID}
	}
	var dto QuoteDTO
	if err := c.getJSON(ctx, "/quotes/"+url.PathEscape(id), nil, &dto); err != nil {
		return QuoteDTO{}, err
	}
	return dto, nil
}

// Author fetches one author by slug.
func (c *Client) Author(ctx context.Context, slug string) (AuthorDTO, error) {
	if strings.TrimSpace(slug) == "" {
		return AuthorDTO{}, &FetchError{Kind: KindOther, cause: errEmptyResourceID}
	}
	var dto AuthorDTO
	if err := c.getJSON(ctx, "/authors/"+url.PathEscape(slug), nil, &dto); err != nil {
		return AuthorDTO{}, err
	}
	return dto, nil
}
