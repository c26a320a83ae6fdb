// Package testutil provides a fake Bitrix24 crm.company.list endpoint for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// WebhookPath is the path a MockCRM serves the list method on.
const WebhookPath = "/rest/1/testtoken/crm.company.list.json"

// MockCRMResponse overrides the answer to one request.
type MockCRMResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// PageCall records one request the mock received.
type PageCall struct {
	Start  int      `json:"start"`
	Select []string `json:"select"`
}

// MockCRM pages through a synthetic company list the way Bitrix24 does.
type MockCRM struct {
	server *httptest.Server

	mu        sync.Mutex
	total     int
	pageSize  int
	endless   bool
	delay     time.Duration
	overrides map[int]MockCRMResponse
	calls     []PageCall
}

// NewMockCRM starts a mock holding total companies, served 50 per page.
func NewMockCRM(total int) *MockCRM {
	m := &MockCRM{
		total:     total,
		pageSize:  50,
		overrides: make(map[int]MockCRMResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the server base URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// WebhookURL returns a webhook URL that passes endpoint validation.
func (m *MockCRM) WebhookURL() string {
	return m.server.URL + WebhookPath
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// SetTotal changes the number of companies.
func (m *MockCRM) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
}

// SetPageSize changes how many records a page carries.
func (m *MockCRM) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// SetEndless makes every page advertise a next cursor.
func (m *MockCRM) SetEndless(endless bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endless = endless
}

// SetDelay delays every response.
func (m *MockCRM) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetResponse overrides the answer to the n-th request (1-based).
func (m *MockCRM) SetResponse(n int, resp MockCRMResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[n] = resp
}

// RequestCount returns the number of requests received.
func (m *MockCRM) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the requests received, in order.
func (m *MockCRM) Calls() []PageCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PageCall(nil), m.calls...)
}

// Reset clears recorded calls and overrides.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.overrides = make(map[int]MockCRMResponse)
}

func (m *MockCRM) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != WebhookPath {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"ERROR_METHOD_NOT_FOUND","error_description":"Method not found!"}`))
		return
	}

	var call PageCall
	json.NewDecoder(r.Body).Decode(&call)

	m.mu.Lock()
	m.calls = append(m.calls, call)
	n := len(m.calls)
	override, overridden := m.overrides[n]
	total, pageSize, endless, delay := m.total, m.pageSize, m.endless, m.delay
	m.mu.Unlock()

	if overridden && override.Delay > 0 {
		delay = override.Delay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if overridden {
		status := override.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(override.Body))
		return
	}

	end := call.Start + pageSize
	if !endless && end > total {
		end = total
	}

	page := map[string]any{
		"result": Companies(call.Start, end),
		"total":  total,
	}
	if endless || end < total {
		page["next"] = call.Start + pageSize
	}
	json.NewEncoder(w).Encode(page)
}

// Companies returns synthetic records with IDs from+1 through to.
func Companies(from, to int) []map[string]any {
	records := make([]map[string]any, 0, max(to-from, 0))
	for i := from + 1; i <= to; i++ {
		records = append(records, Company(i))
	}
	return records
}

// Company returns the synthetic record for id.
func Company(id int) map[string]any {
	return map[string]any{
		"ID":          fmt.Sprintf("%d", id),
		"TITLE":       fmt.Sprintf("Company %d", id),
		"PHONE":       []map[string]string{{"VALUE": fmt.Sprintf("+7 900 %07d", id), "VALUE_TYPE": "WORK"}},
		"EMAIL":       []map[string]string{{"VALUE": fmt.Sprintf("info%d@example.com", id), "VALUE_TYPE": "WORK"}},
		"ADDRESS":     fmt.Sprintf("Street %d", id),
		"DATE_CREATE": "2024-01-15T10:00:00+03:00",
	}
}

// NewServerErrorResponse creates a 503 maintenance response.
func NewServerErrorResponse() MockCRMResponse {
	return MockCRMResponse{StatusCode: http.StatusServiceUnavailable, Body: "Service temporarily unavailable"}
}

// NewRemoteErrorResponse creates a Bitrix24 application error.
func NewRemoteErrorResponse(status int, code, description string) MockCRMResponse {
	body, _ := json.Marshal(map[string]string{"error": code, "error_description": description})
	return MockCRMResponse{StatusCode: status, Body: string(body)}
}

// NewMalformedResponse creates a 200 response that is not JSON.
func NewMalformedResponse() MockCRMResponse {
	return MockCRMResponse{StatusCode: http.StatusOK, Body: "<html><body>Bad Gateway</body></html>"}
}

// NewEmptyResponse creates a 200 response with no body.
func NewEmptyResponse() MockCRMResponse {
	return MockCRMResponse{StatusCode: http.StatusOK}
}
