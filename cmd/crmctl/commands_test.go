package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/cache"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const twoCompanies = `{"companies":[{"ID":"1","TITLE":"ООО Ромашка","PHONE":[{"VALUE":"+7 900 000-00-01","VALUE_TYPE":"WORK"}],"EMAIL":[{"VALUE":"info@romashka.ru"}],"ADDRESS":"Москва"},{"ID":"2","TITLE":"Acme Ltd"}],"total":2,"cached":false}`

type testProxy struct {
	server *httptest.Server
	hits   atomic.Int32
	last   atomic.Value // string, request URI
}

func newTestProxy(t *testing.T, status int, body string) *testProxy {
	t.Helper()
	p := &testProxy{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		p.last.Store(r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(p.server.Close)
	return p
}

// resetFlags restores every flag to its default; cobra commands are package
// globals and keep values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	noColor = true

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func decodeOutput(t *testing.T, out string) (companies []map[string]any, total int) {
	t.Helper()
	var v struct {
		Companies []map[string]any `json:"companies"`
		Total     int              `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return v.Companies, v.Total
}

func TestFetch_SavesAndUsesSnapshot(t *testing.T) {
	proxy := newTestProxy(t, http.StatusOK, twoCompanies)
	dir := t.TempDir()

	out, err := execute(t, "fetch", "--json", "--server", proxy.server.URL, "--cache-dir", dir)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	companies, total := decodeOutput(t, out)
	if total != 2 || len(companies) != 2 {
		t.Errorf("total = %d, len = %d, want 2", total, len(companies))
	}

	out, err = execute(t, "fetch", "--json", "--server", proxy.server.URL, "--cache-dir", dir)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if _, total := decodeOutput(t, out); total != 2 {
		t.Errorf("snapshot total = %d, want 2", total)
	}
	if n := proxy.hits.Load(); n != 1 {
		t.Errorf("proxy hits = %d, second fetch should use the snapshot", n)
	}

	if _, err := execute(t, "fetch", "--json", "--no-cache", "--server", proxy.server.URL, "--cache-dir", dir); err != nil {
		t.Fatalf("fetch --no-cache failed: %v", err)
	}
	if n := proxy.hits.Load(); n != 2 {
		t.Errorf("proxy hits = %d, --no-cache should call the proxy", n)
	}
}

func TestFetch_SnapshotKeyedByRequest(t *testing.T) {
	proxy := newTestProxy(t, http.StatusOK, twoCompanies)
	dir := t.TempDir()

	if _, err := execute(t, "fetch", "--json", "--server", proxy.server.URL, "--cache-dir", dir); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "fetch", "--json", "--max", "1", "--server", proxy.server.URL, "--cache-dir", dir); err != nil {
		t.Fatal(err)
	}
	if n := proxy.hits.Load(); n != 2 {
		t.Errorf("proxy hits = %d, different parameters must not share a snapshot", n)
	}

	uri, _ := proxy.last.Load().(string)
	if !strings.Contains(uri, "max=1") {
		t.Errorf("request URI = %q, want max=1", uri)
	}
}

func TestFetch_PartialNotSaved(t *testing.T) {
	body := `{"companies":[{"ID":"1","TITLE":"A"}],"total":1,"cached":false,"partial":true,"warning":"Сервер Bitrix24 вернул ошибку 503."}`
	proxy := newTestProxy(t, http.StatusOK, body)
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		if _, err := execute(t, "fetch", "--json", "--server", proxy.server.URL, "--cache-dir", dir); err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
	}
	if n := proxy.hits.Load(); n != 2 {
		t.Errorf("proxy hits = %d, partial results must not be saved", n)
	}
}

func TestFetch_ProxyError(t *testing.T) {
	proxy := newTestProxy(t, http.StatusTooManyRequests, `{"error":"Слишком частые запросы. Попробуйте через 2 секунды."}`)

	_, err := execute(t, "fetch", "--server", proxy.server.URL, "--cache-dir", t.TempDir())
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Слишком частые запросы. Попробуйте через 2 секунды." {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestFetch_ServerUnreachable(t *testing.T) {
	_, err := execute(t, "fetch", "--server", "http://127.0.0.1:1", "--cache-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v, want unreachable error", err)
	}
}

func TestFetch_TableAndSearch(t *testing.T) {
	proxy := newTestProxy(t, http.StatusOK, twoCompanies)

	out, err := execute(t, "fetch", "--search", "ромашка", "--server", proxy.server.URL, "--cache-dir", t.TempDir())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !strings.Contains(out, "ООО Ромашка") {
		t.Errorf("table is missing the match:\n%s", out)
	}
	if !strings.Contains(out, "+7 900 000-00-01") || !strings.Contains(out, "info@romashka.ru") {
		t.Errorf("table should show the first phone and email:\n%s", out)
	}
	if strings.Contains(out, "Acme") {
		t.Errorf("table should not contain non-matching companies:\n%s", out)
	}
}

func TestFetch_InvalidServer(t *testing.T) {
	if _, err := execute(t, "fetch", "--server", "not a url", "--cache-dir", t.TempDir()); err == nil {
		t.Error("Expected error for invalid --server")
	}
}

func TestCompaniesURL(t *testing.T) {
	c := &apiClient{baseURL: "http://proxy:8080"}

	if got := c.companiesURL(fetchParams{}); got != "http://proxy:8080/api/companies" {
		t.Errorf("companiesURL() = %q", got)
	}

	got := c.companiesURL(fetchParams{
		Webhook:     "https://x.bitrix24.ru/rest/1/t/crm.company.list",
		Max:         100,
		MaxRequests: 2,
		Timeout:     90 * time.Second,
	})
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", got, err)
	}
	q := u.Query()
	if q.Get("webhook") != "https://x.bitrix24.ru/rest/1/t/crm.company.list" {
		t.Errorf("webhook = %q", q.Get("webhook"))
	}
	if q.Get("max") != "100" || q.Get("max_requests") != "2" || q.Get("timeout") != "90" {
		t.Errorf("query = %v", q)
	}
}

func TestValidateCommand(t *testing.T) {
	if _, err := execute(t, "validate", "https://example.bitrix24.ru/rest/1/token/crm.company.list"); err != nil {
		t.Errorf("valid URL rejected: %v", err)
	}

	_, err := execute(t, "validate", "https://example.bitrix24.ru/rest/1/token/crm.deal.list")
	if err == nil || !strings.Contains(err.Error(), "crm.company.list") {
		t.Errorf("err = %v, want method validation error", err)
	}

	if _, err := execute(t, "validate"); err == nil {
		t.Error("validate without an argument should fail")
	}
}

func TestCacheClear(t *testing.T) {
	dir := t.TempDir()
	storage, err := cache.NewDirStorage(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := cache.NewSlot(storage, 0)
	if err := s.Save("http://proxy/api/companies", []json.RawMessage{json.RawMessage(`{"ID":"1"}`)}, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "cache", "clear", "--cache-dir", dir); err != nil {
		t.Fatalf("cache clear failed: %v", err)
	}
	if _, ok := s.Load("http://proxy/api/companies"); ok {
		t.Error("snapshot should be gone after cache clear")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("cache dir has %d entries, want 0", len(entries))
	}
}

func TestFirstValue(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`[{"VALUE":"a@b.c","VALUE_TYPE":"WORK"},{"VALUE":"x@y.z"}]`, "a@b.c"},
		{`[]`, ""},
		{`"plain"`, "plain"},
		{``, ""},
		{`42`, ""},
	}
	for _, tt := range tests {
		if got := firstValue(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("firstValue(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorRed, "test"); strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", got)
	}

	noColor = false
	if got := colorize(colorRed, "test"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}
