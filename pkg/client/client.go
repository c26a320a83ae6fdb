// Package client provides the remote API gateway: one POST per page against
// a Bitrix24 webhook, with an enforced timeout and verified TLS.
//
// The gateway returns the raw status and body. It does not interpret JSON or
// remote error codes and never retries; see package classify and package
// pagination.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PageSize is the fixed number of records the remote API returns per page.
const PageSize = 50

// DefaultSelect is the field list requested for every company.
var DefaultSelect = []string{"ID", "TITLE", "PHONE", "EMAIL", "ADDRESS", "DATE_CREATE"}

// Record is one opaque company object exactly as the remote API encoded it.
type Record = json.RawMessage

// PageRequest describes one page to fetch.
type PageRequest struct {
	// Cursor is the offset to start from; nil means the first page.
	Cursor *int

	// Select is the ordered field selector. Empty means the client default.
	Select []string
}

// PageResult is a decoded page.
type PageResult struct {
	Records []Record

	// Next is the continuation cursor. Nil is authoritative end-of-stream.
	Next *int
}

// RawResponse is the undecoded result of one page request.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// pageBody is the JSON request body for crm.company.list.
type pageBody struct {
	Start  int      `json:"start"`
	Select []string `json:"select"`
}

// Client is the remote API gateway.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the gateway configuration.
type Config struct {
	// Timeout bounds each page request including reading the body.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string

	// Select overrides DefaultSelect.
	Select []string

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      45 * time.Second,
		UserAgent:    "crm-company-cache/0.1.0",
		Select:       DefaultSelect,
		MaxBodyBytes: 32 << 20,
	}
}

// New creates a new gateway.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if len(cfg.Select) == 0 {
		cfg.Select = DefaultSelect
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
		logger: log.With().Str("component", "crm-client").Logger(),
	}, nil
}

// Timeout returns the per-page timeout.
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// SendPage issues exactly one POST for the page described by req.
// A non-nil error is always a *TransportError.
func (c *Client) SendPage(ctx context.Context, ep endpoint.Endpoint, req PageRequest) (*RawResponse, error) {
	start := 0
	if req.Cursor != nil {
		start = *req.Cursor
	}
	fields := req.Select
	if len(fields) == 0 {
		fields = c.config.Select
	}

	payload, err := json.Marshal(pageBody{Start: start, Select: fields})
	if err != nil {
		return nil, &TransportError{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Op: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("endpoint_key", ep.Key()).
		Int("cursor", start).
		Msg("Requesting page")

	startTime := time.Now()
	defer func() {
		crmRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = withoutURL(err)
		crmRequestsTotal.WithLabelValues("transport_error").Inc()
		c.logger.Debug().Err(err).Str("endpoint_key", ep.Key()).Msg("Page request failed")
		return nil, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		crmRequestsTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Op: "read body", Err: withoutURL(err)}
	}

	crmRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(startTime),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
