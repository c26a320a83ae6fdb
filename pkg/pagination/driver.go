package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/classify"
	"github.com/Sternrassler/crm-company-cache/pkg/client"
	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/Sternrassler/crm-company-cache/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultMaxRecords caps the aggregate when no limit is given.
const DefaultMaxRecords = 10000

// Gateway sends a single page request. *client.Client implements it.
type Gateway interface {
	SendPage(ctx context.Context, ep endpoint.Endpoint, req client.PageRequest) (*client.RawResponse, error)
}

// State is the position of a session in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StateAccumulating State = "accumulating"
	StateDone         State = "done"
	StatePartial      State = "partial"
	StateFailed       State = "failed"
)

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StatePartial || s == StateFailed
}

// Limits bounds a session.
type Limits struct {
	// MaxRecords caps the aggregate (default DefaultMaxRecords).
	MaxRecords int

	// MaxRequests caps page requests. Zero, or anything above
	// ceil(MaxRecords/PageSize), means ceil(MaxRecords/PageSize).
	MaxRequests int

	// Budget is the overall wall-clock limit for the session. Zero means none.
	Budget time.Duration
}

// MaxRequestsFor returns the request ceiling for maxRecords.
func MaxRequestsFor(maxRecords int) int {
	return (maxRecords + client.PageSize - 1) / client.PageSize
}

// Normalize fills defaults and clamps MaxRequests to the ceiling.
func (l Limits) Normalize() Limits {
	if l.MaxRecords <= 0 {
		l.MaxRecords = DefaultMaxRecords
	}
	ceiling := MaxRequestsFor(l.MaxRecords)
	if l.MaxRequests <= 0 || l.MaxRequests > ceiling {
		l.MaxRequests = ceiling
	}
	if l.Budget < 0 {
		l.Budget = 0
	}
	return l
}

// RecordCap is the most records a session under l can return.
func (l Limits) RecordCap() int {
	l = l.Normalize()
	if n := l.MaxRequests * client.PageSize; n < l.MaxRecords {
		return n
	}
	return l.MaxRecords
}

// Result is the frozen aggregate of a finished session.
type Result struct {
	Records  []client.Record
	Requests int
	State    State

	// Err is the failure that cut a Partial session short.
	Err *classify.Error

	Duration time.Duration
}

// Partial reports whether the aggregate is incomplete.
func (r *Result) Partial() bool {
	return r.State == StatePartial
}

// Driver runs fetch sessions. It is safe for concurrent use; each Run owns
// its own session state.
type Driver struct {
	gateway    Gateway
	classifier *classify.Classifier
	logger     zerolog.Logger
}

// NewDriver creates a driver.
func NewDriver(gateway Gateway, classifier *classify.Classifier) *Driver {
	return &Driver{
		gateway:    gateway,
		classifier: classifier,
		logger:     logging.NewLogger("pagination"),
	}
}

// SetLogger replaces the driver logger.
func (d *Driver) SetLogger(logger zerolog.Logger) {
	d.logger = logger
}

// Run executes one session against ep.
//
// On success the State is Done. If a page after the first fails, the records
// collected so far come back with State Partial and Err set, and the returned
// error is nil. Otherwise a failure returns a nil Result and a *classify.Error
// (or the context error when the caller cancelled).
func (d *Driver) Run(ctx context.Context, ep endpoint.Endpoint, limits Limits) (*Result, error) {
	s := &session{
		driver: d,
		ep:     ep,
		limits: limits.Normalize(),
		state:  StateIdle,
		logger: logging.WithEndpoint(d.logger, ep.Key()),
	}
	return s.run(ctx)
}

// session is single-use: once it reaches a terminal state it is discarded.
type session struct {
	driver *Driver
	ep     endpoint.Endpoint
	limits Limits
	logger zerolog.Logger

	state    State
	cursor   *int
	records  []client.Record
	requests int
	started  time.Time
}

func (s *session) run(ctx context.Context) (*Result, error) {
	s.started = time.Now()

	if s.limits.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.Budget)
		defer cancel()
	}

	for len(s.records) < s.limits.MaxRecords && s.requests < s.limits.MaxRequests {
		if err := ctx.Err(); err != nil {
			return s.expired(err)
		}

		s.state = StateFetching
		s.requests++
		firstPage := s.requests == 1

		raw, err := s.driver.gateway.SendPage(ctx, s.ep, client.PageRequest{Cursor: s.cursor})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.expired(ctxErr)
			}
			return s.abort(s.driver.classifier.Transport(err))
		}

		page, cerr := s.driver.classifier.Response(raw, firstPage)
		if cerr != nil {
			return s.abort(cerr)
		}

		s.state = StateAccumulating
		s.records = append(s.records, page.Records...)

		s.logger.Debug().
			Int("cursor", cursorValue(s.cursor)).
			Int("page_records", len(page.Records)).
			Int("records", len(s.records)).
			Int("requests", s.requests).
			Msg("Page accumulated")

		if len(s.records) >= s.limits.MaxRecords {
			s.records = s.records[:s.limits.MaxRecords]
			break
		}
		if page.Next == nil {
			break
		}
		s.cursor = page.Next
	}

	if s.requests >= s.limits.MaxRequests && s.cursor != nil && len(s.records) < s.limits.MaxRecords {
		s.logger.Warn().
			Int("requests", s.requests).
			Int("max_requests", s.limits.MaxRequests).
			Int("records", len(s.records)).
			Msg("Request limit reached before the remote signalled the last page")
	}

	return s.finish(StateDone, nil), nil
}

// abort ends the session on a classified error. Records gathered from earlier
// pages survive as a Partial result.
func (s *session) abort(cerr *classify.Error) (*Result, error) {
	classify.Observe(cerr)

	if len(s.records) > 0 {
		s.logger.Warn().
			Err(cerr).
			Str("error_kind", string(cerr.Kind)).
			Int("records", len(s.records)).
			Int("requests", s.requests).
			Msg("Session cut short, returning partial results")
		return s.finish(StatePartial, cerr), nil
	}

	s.fail(cerr)
	return nil, cerr
}

// expired ends the session when its context is done. The aggregate is
// dropped: a budget overrun never yields data.
func (s *session) expired(ctxErr error) (*Result, error) {
	s.records = nil

	if errors.Is(ctxErr, context.Canceled) {
		s.fail(ctxErr)
		return nil, fmt.Errorf("session cancelled: %w", ctxErr)
	}

	cerr := classify.Observe(s.driver.classifier.SessionTimeout(s.limits.Budget, ctxErr))
	s.fail(cerr)
	return nil, cerr
}

func (s *session) fail(err error) {
	s.state = StateFailed
	sessionsTotal.WithLabelValues(string(StateFailed)).Inc()

	event := s.logger.Error().
		Err(err).
		Int("requests", s.requests).
		Dur("duration", time.Since(s.started))
	var cerr *classify.Error
	if errors.As(err, &cerr) {
		event = event.
			Str("error_kind", string(cerr.Kind)).
			Str("remote_code", cerr.RemoteCode).
			Int("status_code", cerr.StatusCode)
	}
	event.Msg("Session failed")
}

func (s *session) finish(state State, cerr *classify.Error) *Result {
	s.state = state
	sessionsTotal.WithLabelValues(string(state)).Inc()
	sessionPages.Observe(float64(s.requests))

	duration := time.Since(s.started)
	s.logger.Info().
		Str("state", string(state)).
		Int("records", len(s.records)).
		Int("requests", s.requests).
		Dur("duration", duration).
		Msg("Session complete")

	return &Result{
		Records:  s.records,
		Requests: s.requests,
		State:    state,
		Err:      cerr,
		Duration: duration,
	}
}

func cursorValue(c *int) int {
	if c == nil {
		return 0
	}
	return *c
}
