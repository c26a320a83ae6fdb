package classify

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/crm-company-cache/pkg/client"
)

// BodyPrefixLen bounds how much of a malformed body ends up in a message.
const BodyPrefixLen = 200

// timeoutMarkers and tlsMarkers are matched case-insensitively against the
// transport diagnostic, after the request URL has been stripped from it.
var (
	timeoutMarkers = []string{"timeout", "timed out", "deadline exceeded"}
	tlsMarkers     = []string{"ssl", "tls:", "tls handshake", "x509", "certificate"}
)

// Classifier turns gateway outcomes into pages or classified errors.
type Classifier struct {
	catalog *Catalog
	timeout time.Duration
}

// New creates a classifier. timeout is the per-page timeout quoted in
// timeout messages.
func New(catalog *Catalog, timeout time.Duration) *Classifier {
	if catalog == nil {
		catalog = Russian()
	}
	return &Classifier{catalog: catalog, timeout: timeout}
}

// Catalog returns the message catalog in use.
func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// Transport classifies a failure below HTTP. The first matching rule wins:
// timeout, then TLS, then network. Neither the message nor the markers see
// the request URL.
func (c *Classifier) Transport(err error) *Error {
	diag := diagnostic(err)
	lower := strings.ToLower(diag)

	var dnsErr *net.DNSError
	lookupFailed := errors.As(err, &dnsErr)

	if isTimeout(err) || (!lookupFailed && containsAny(lower, timeoutMarkers)) {
		return &Error{
			Kind:    KindTimeout,
			Message: c.catalog.timeoutMessage(c.timeout),
			Err:     err,
		}
	}

	if isTLS(err) || (!lookupFailed && containsAny(lower, tlsMarkers)) {
		return &Error{
			Kind:    KindTLS,
			Message: c.catalog.Templates.TLS,
			Err:     err,
		}
	}

	return &Error{
		Kind:    KindNetwork,
		Message: fmt.Sprintf(c.catalog.Templates.Network, diag),
		Err:     err,
	}
}

// SessionTimeout classifies an expired session budget.
func (c *Classifier) SessionTimeout(budget time.Duration, err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf(c.catalog.Templates.SessionTimeout, budget),
		Err:     err,
	}
}

// The remote response contract is either
// {result: Record[], next?: int} or {error: string, error_description?: string}.
const (
	fieldResult      = "result"
	fieldNext        = "next"
	fieldError       = "error"
	fieldDescription = "error_description"
)

// Response decodes a raw page. firstPage selects between EmptyResponse and
// MalformedResponse for bodies without a result field.
func (c *Classifier) Response(resp *client.RawResponse, firstPage bool) (*client.PageResult, *Error) {
	if resp.StatusCode >= 500 {
		return nil, &Error{
			Kind:       KindRemoteServer,
			Message:    fmt.Sprintf(c.catalog.Templates.RemoteServer, resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     bodyPrefix(resp.Body),
		}
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, c.missingResult(resp.StatusCode, firstPage, true, resp.Body)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.malformed(resp.StatusCode, resp.Body, err)
	}

	if body[0] != '{' {
		// null, [] and scalars carry no result field.
		return nil, c.missingResult(resp.StatusCode, firstPage, isEmptyJSON(body), resp.Body)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, c.malformed(resp.StatusCode, resp.Body, err)
	}

	if code, ok := jsonText(fields[fieldError]); ok {
		description, _ := jsonText(fields[fieldDescription])
		return nil, &Error{
			Kind:       KindRemoteApplication,
			Message:    c.catalog.RemoteMessage(code, description),
			RemoteCode: code,
			StatusCode: resp.StatusCode,
			Detail:     description,
		}
	}

	result := fields[fieldResult]
	if isNull(result) {
		return nil, c.missingResult(resp.StatusCode, firstPage, len(fields) == 0, resp.Body)
	}

	var records []client.Record
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, c.missingResult(resp.StatusCode, firstPage, false, resp.Body)
	}
	for i, rec := range records {
		if len(rec) == 0 || rec[0] != '{' {
			return nil, c.malformed(resp.StatusCode, resp.Body, fmt.Errorf("record %d is not an object", i))
		}
	}

	page := &client.PageResult{Records: records}
	if rawNext := fields[fieldNext]; !isNull(rawNext) {
		next, err := parseCursor(rawNext)
		if err != nil {
			return nil, c.malformed(resp.StatusCode, resp.Body, err)
		}
		page.Next = &next
	}

	return page, nil
}

func (c *Classifier) malformed(status int, body []byte, err error) *Error {
	prefix := bodyPrefix(body)
	return &Error{
		Kind:       KindMalformed,
		Message:    fmt.Sprintf(c.catalog.Templates.Malformed, prefix),
		StatusCode: status,
		Detail:     prefix,
		Err:        err,
	}
}

func (c *Classifier) missingResult(status int, firstPage, empty bool, body []byte) *Error {
	if firstPage && empty {
		return &Error{
			Kind:       KindEmpty,
			Message:    c.catalog.Templates.Empty,
			StatusCode: status,
		}
	}
	return &Error{
		Kind:       KindMalformed,
		Message:    c.catalog.Templates.MissingResult,
		StatusCode: status,
		Detail:     bodyPrefix(body),
	}
}

// jsonText extracts a string field. Strings are taken verbatim; any other
// non-null JSON value is reported as its literal text.
func jsonText(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}
	return string(raw), true
}

func parseCursor(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("next cursor is not a number: %s", raw)
	}
	v, err := n.Int64()
	if err != nil || v < 0 {
		return 0, fmt.Errorf("next cursor is not a non-negative integer: %s", raw)
	}
	return int(v), nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func isEmptyJSON(body []byte) bool {
	switch string(body) {
	case "null", "[]", "{}", `""`, "false", "0":
		return true
	}
	return false
}

// diagnostic returns the innermost transport message: without the gateway
// prefix and without the *url.Error wrapper that quotes the webhook URL.
func diagnostic(err error) string {
	var te *client.TransportError
	if errors.As(err, &te) && te.Err != nil {
		err = te.Err
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		err = ue.Err
	}
	return err.Error()
}

func isTLS(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// bodyPrefix returns at most BodyPrefixLen runes of body, marking truncation.
func bodyPrefix(body []byte) string {
	if utf8.RuneCount(body) <= BodyPrefixLen {
		return string(body)
	}
	var b strings.Builder
	n := 0
	for len(body) > 0 && n < BodyPrefixLen {
		r, size := utf8.DecodeRune(body)
		b.WriteRune(r)
		body = body[size:]
		n++
	}
	b.WriteString("...")
	return b.String()
}
