package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/crm-company-cache/internal/testutil"
	"github.com/Sternrassler/crm-company-cache/pkg/classify"
	"github.com/Sternrassler/crm-company-cache/pkg/client"
	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/rs/zerolog"
)

func mustEndpoint(t *testing.T, raw string) endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.NewValidator(zerolog.Nop()).Validate(raw)
	if err != nil {
		t.Fatalf("Validate(%q) failed: %v", raw, err)
	}
	return ep
}

func newDriver(t *testing.T, timeout time.Duration) *Driver {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Timeout = timeout
	gw, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	d := NewDriver(gw, classify.New(classify.Russian(), timeout))
	d.SetLogger(zerolog.Nop())
	return d
}

// fakeGateway answers from a script, one entry per call.
type fakeGateway struct {
	mu      sync.Mutex
	script  []fakeReply
	cursors []*int
}

type fakeReply struct {
	status int
	body   string
	err    error
}

func (f *fakeGateway) SendPage(ctx context.Context, ep endpoint.Endpoint, req client.PageRequest) (*client.RawResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, req.Cursor)
	i := len(f.cursors) - 1
	if i >= len(f.script) {
		return &client.RawResponse{StatusCode: 200, Body: []byte(`{"result":[]}`)}, nil
	}
	reply := f.script[i]
	if reply.err != nil {
		return nil, reply.err
	}
	return &client.RawResponse{StatusCode: reply.status, Body: []byte(reply.body)}, nil
}

func TestRun_TruncatesToMaxRecords(t *testing.T) {
	mock := testutil.NewMockCRM(150)
	defer mock.Close()

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{MaxRecords: 120})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.State != StateDone {
		t.Errorf("State = %s, want done", result.State)
	}
	if len(result.Records) != 120 {
		t.Errorf("len(Records) = %d, want 120", len(result.Records))
	}
	if result.Requests != 3 {
		t.Errorf("Requests = %d, want 3", result.Requests)
	}

	var starts []int
	for _, call := range mock.Calls() {
		starts = append(starts, call.Start)
	}
	if len(starts) != 3 || starts[0] != 0 || starts[1] != 50 || starts[2] != 100 {
		t.Errorf("starts = %v, want [0 50 100]", starts)
	}

	var last map[string]any
	if err := json.Unmarshal(result.Records[119], &last); err != nil {
		t.Fatalf("Record is not an object: %v", err)
	}
	if last["ID"] != "120" {
		t.Errorf("last ID = %v, want 120", last["ID"])
	}
}

func TestRun_StopsWhenNextAbsent(t *testing.T) {
	mock := testutil.NewMockCRM(70)
	defer mock.Close()

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Records) != 70 {
		t.Errorf("len(Records) = %d, want 70", len(result.Records))
	}
	if result.Requests != 2 {
		t.Errorf("Requests = %d, want 2", result.Requests)
	}
}

func TestRun_EmptyListIsDone(t *testing.T) {
	mock := testutil.NewMockCRM(0)
	defer mock.Close()

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateDone || len(result.Records) != 0 || result.Requests != 1 {
		t.Errorf("got state=%s records=%d requests=%d, want done/0/1", result.State, len(result.Records), result.Requests)
	}
}

func TestRun_RequestBoundHoldsAgainstEndlessRemote(t *testing.T) {
	mock := testutil.NewMockCRM(0)
	defer mock.Close()
	mock.SetEndless(true)
	mock.SetPageSize(10)

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{MaxRecords: 100})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := mock.RequestCount(); got != 2 {
		t.Errorf("RequestCount = %d, want ceil(100/50) = 2", got)
	}
	if len(result.Records) != 20 {
		t.Errorf("len(Records) = %d, want 20", len(result.Records))
	}
	if result.State != StateDone {
		t.Errorf("State = %s, want done", result.State)
	}
}

func TestRun_MaxRequestsOverride(t *testing.T) {
	mock := testutil.NewMockCRM(1000)
	defer mock.Close()

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{MaxRecords: 1000, MaxRequests: 3})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Requests != 3 || len(result.Records) != 150 {
		t.Errorf("got requests=%d records=%d, want 3/150", result.Requests, len(result.Records))
	}
}

func TestRun_FirstPageFailure(t *testing.T) {
	tests := []struct {
		name     string
		resp     testutil.MockCRMResponse
		wantKind classify.Kind
	}{
		{"remote application error", testutil.NewRemoteErrorResponse(401, "insufficient_scope", "The request requires higher privileges"), classify.KindRemoteApplication},
		{"server error", testutil.NewServerErrorResponse(), classify.KindRemoteServer},
		{"malformed body", testutil.NewMalformedResponse(), classify.KindMalformed},
		{"empty body", testutil.NewEmptyResponse(), classify.KindEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockCRM(200)
			defer mock.Close()
			mock.SetResponse(1, tt.resp)

			d := newDriver(t, 5*time.Second)
			result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{})
			if result != nil {
				t.Errorf("Result must be nil on failure, got %+v", result)
			}

			var cerr *classify.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected *classify.Error, got %T (%v)", err, err)
			}
			if cerr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", cerr.Kind, tt.wantKind)
			}
			if mock.RequestCount() != 1 {
				t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
			}
		})
	}
}

func TestRun_LaterPageFailureIsPartial(t *testing.T) {
	mock := testutil.NewMockCRM(200)
	defer mock.Close()
	mock.SetResponse(3, testutil.NewServerErrorResponse())

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{})
	if err != nil {
		t.Fatalf("Partial session should not return an error, got %v", err)
	}
	if !result.Partial() {
		t.Fatalf("State = %s, want partial", result.State)
	}
	if len(result.Records) != 100 {
		t.Errorf("len(Records) = %d, want 100", len(result.Records))
	}
	if result.Err == nil || result.Err.Kind != classify.KindRemoteServer {
		t.Errorf("Err = %v, want remote_server", result.Err)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3 (no retry)", mock.RequestCount())
	}
}

func TestRun_LaterPageTimeoutIsPartial(t *testing.T) {
	mock := testutil.NewMockCRM(200)
	defer mock.Close()
	mock.SetResponse(2, testutil.MockCRMResponse{Delay: 500 * time.Millisecond, Body: `{"result":[]}`})

	d := newDriver(t, 100*time.Millisecond)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Partial() {
		t.Fatalf("State = %s, want partial", result.State)
	}
	if result.Err.Kind != classify.KindTimeout {
		t.Errorf("Err.Kind = %s, want timeout", result.Err.Kind)
	}
	if len(result.Records) != 50 {
		t.Errorf("len(Records) = %d, want 50", len(result.Records))
	}
}

func TestRun_SessionBudgetDiscardsRecords(t *testing.T) {
	mock := testutil.NewMockCRM(200)
	defer mock.Close()
	mock.SetResponse(2, testutil.MockCRMResponse{Delay: 2 * time.Second, Body: `{"result":[]}`})

	d := newDriver(t, 5*time.Second)
	result, err := d.Run(context.Background(), mustEndpoint(t, mock.WebhookURL()), Limits{Budget: 200 * time.Millisecond})
	if result != nil {
		t.Errorf("Budget expiry must not yield records, got %d", len(result.Records))
	}

	var cerr *classify.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *classify.Error, got %T (%v)", err, err)
	}
	if cerr.Kind != classify.KindTimeout {
		t.Errorf("Kind = %s, want timeout", cerr.Kind)
	}
	if !strings.Contains(cerr.Message, "200ms") {
		t.Errorf("Message %q should quote the session budget", cerr.Message)
	}
}

func TestRun_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDriver(&fakeGateway{}, classify.New(nil, time.Second))
	d.SetLogger(zerolog.Nop())

	_, err := d.Run(ctx, endpoint.Endpoint{}, Limits{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun_CursorFollowsNext(t *testing.T) {
	gw := &fakeGateway{script: []fakeReply{
		{status: 200, body: `{"result":[{"ID":"1"}],"next":7}`},
		{status: 200, body: `{"result":[{"ID":"2"}],"next":19}`},
		{status: 200, body: `{"result":[{"ID":"3"}]}`},
	}}
	d := NewDriver(gw, classify.New(nil, time.Second))
	d.SetLogger(zerolog.Nop())

	result, err := d.Run(context.Background(), endpoint.Endpoint{}, Limits{MaxRecords: 500})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(result.Records))
	}
	if string(result.Records[1]) != `{"ID":"2"}` {
		t.Errorf("Record bytes changed: %s", result.Records[1])
	}

	if gw.cursors[0] != nil {
		t.Errorf("first cursor = %d, want none", *gw.cursors[0])
	}
	if *gw.cursors[1] != 7 || *gw.cursors[2] != 19 {
		t.Errorf("cursors = %d, %d, want 7, 19", *gw.cursors[1], *gw.cursors[2])
	}
}

func TestRun_TransportErrorOnFirstPage(t *testing.T) {
	gw := &fakeGateway{script: []fakeReply{
		{err: &client.TransportError{Op: "post", Err: errors.New("dial tcp: connect: connection refused")}},
	}}
	d := NewDriver(gw, classify.New(nil, time.Second))
	d.SetLogger(zerolog.Nop())

	_, err := d.Run(context.Background(), endpoint.Endpoint{}, Limits{})
	var cerr *classify.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *classify.Error, got %T (%v)", err, err)
	}
	if cerr.Kind != classify.KindNetwork {
		t.Errorf("Kind = %s, want network", cerr.Kind)
	}
}

func TestLimits_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Limits
		want Limits
	}{
		{"defaults", Limits{}, Limits{MaxRecords: 10000, MaxRequests: 200}},
		{"ceiling", Limits{MaxRecords: 120}, Limits{MaxRecords: 120, MaxRequests: 3}},
		{"override lowers", Limits{MaxRecords: 1000, MaxRequests: 5}, Limits{MaxRecords: 1000, MaxRequests: 5}},
		{"override cannot raise", Limits{MaxRecords: 100, MaxRequests: 50}, Limits{MaxRecords: 100, MaxRequests: 2}},
		{"single record", Limits{MaxRecords: 1}, Limits{MaxRecords: 1, MaxRequests: 1}},
		{"negative budget", Limits{MaxRecords: 50, Budget: -time.Second}, Limits{MaxRecords: 50, MaxRequests: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLimits_RecordCap(t *testing.T) {
	tests := []struct {
		in   Limits
		want int
	}{
		{Limits{}, 10000},
		{Limits{MaxRecords: 120}, 120},
		{Limits{MaxRecords: 1000, MaxRequests: 2}, 100},
		{Limits{MaxRecords: 30, MaxRequests: 1}, 30},
	}

	for _, tt := range tests {
		if got := tt.in.RecordCap(); got != tt.want {
			t.Errorf("%+v.RecordCap() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for state, want := range map[State]bool{
		StateIdle:         false,
		StateFetching:     false,
		StateAccumulating: false,
		StateDone:         true,
		StatePartial:      true,
		StateFailed:       true,
	} {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}
