package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/crm-company-cache/internal/server"
)

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

// newAPIClient is a variable so tests can point commands at a fake server.
var newAPIClient = func() (*apiClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid --server %q", serverURL)
	}
	return &apiClient{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// fetchParams mirrors the query parameters of the companies route.
type fetchParams struct {
	Webhook     string
	Max         int
	MaxRequests int
	Timeout     time.Duration
}

// companiesURL is the request URL for p. It also identifies the local
// snapshot, so different parameters never share one.
func (c *apiClient) companiesURL(p fetchParams) string {
	q := url.Values{}
	if p.Webhook != "" {
		q.Set(server.ParamWebhook, p.Webhook)
	}
	if p.Max > 0 {
		q.Set(server.ParamMax, strconv.Itoa(p.Max))
	}
	if p.MaxRequests > 0 {
		q.Set(server.ParamMaxRequests, strconv.Itoa(p.MaxRequests))
	}
	if p.Timeout > 0 {
		q.Set(server.ParamTimeout, strconv.Itoa(int(p.Timeout/time.Second)))
	}
	u := c.baseURL + server.CompaniesPath
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// companiesResponse is the proxy payload.
type companiesResponse struct {
	Companies []json.RawMessage `json:"companies"`
	Total     int               `json:"total"`
	Cached    bool              `json:"cached"`
	Partial   bool              `json:"partial"`
	Warning   string            `json:"warning"`
}

// apiError carries the proxy's {"error": ...} message.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) fetchCompanies(ctx context.Context, p fetchParams) (*companiesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.companiesURL(p), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is crm-proxy running? (%w)", err)
	}

	var out companiesResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return &apiError{StatusCode: resp.StatusCode, Message: e.Error}
		}
		return &apiError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
