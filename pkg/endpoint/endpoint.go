// Package endpoint validates caller-supplied Bitrix24 webhook URLs before any
// network call is made.
//
// A webhook URL looks like
//
//	https://example.bitrix24.ru/rest/1/abcdef0123456789/crm.company.list.json
//
// The user id and token segments make the URL a credential, so it is never
// logged verbatim; Key returns a stable digest for logs and cache keys.
package endpoint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

const (
	// RESTMarker is the path segment that marks the REST API root.
	RESTMarker = "/rest/"

	// MethodMarker names the collection method the fetch engine lists.
	MethodMarker = "crm.company.list"
)

// VendorDomains are the registrable domains of the hosted Bitrix24 service.
// A webhook outside these is accepted (self-hosted installations exist) but logged.
var VendorDomains = []string{
	"bitrix24.ru",
	"bitrix24.com",
	"bitrix24.de",
	"bitrix24.eu",
	"bitrix24.by",
	"bitrix24.kz",
	"bitrix24.ua",
	"bitrix24.es",
	"bitrix24.fr",
	"bitrix24.pl",
	"bitrix24.it",
	"bitrix24.in",
	"bitrix24.com.br",
	"bitrix24.uk",
	"bitrix24.jp",
	"bitrix24.cn",
	"bitrix24.site",
}

// Endpoint is a validated, authorized webhook URL.
type Endpoint struct {
	raw string
	url *url.URL
}

// String returns the webhook URL exactly as supplied.
func (e Endpoint) String() string {
	return e.raw
}

// URL returns a copy of the parsed URL.
func (e Endpoint) URL() *url.URL {
	if e.url == nil {
		return nil
	}
	u := *e.url
	return &u
}

// Host returns the webhook host.
func (e Endpoint) Host() string {
	if e.url == nil {
		return ""
	}
	return e.url.Hostname()
}

// Key returns the md5 hex digest of the webhook URL. It identifies the
// endpoint (and thus the tenant) in cache keys and logs.
func (e Endpoint) Key() string {
	return KeyFor(e.raw)
}

// IsZero reports whether e was never validated.
func (e Endpoint) IsZero() bool {
	return e.url == nil
}

// KeyFor returns the md5 hex digest used to identify a raw webhook URL.
func KeyFor(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidationError reports why a webhook URL was rejected.
type ValidationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid webhook url: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid webhook url: %s", e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validator checks webhook URLs. The zero value is not usable; use NewValidator.
type Validator struct {
	logger  zerolog.Logger
	domains map[string]struct{}
}

// NewValidator creates a validator that soft-checks hosts against VendorDomains.
func NewValidator(logger zerolog.Logger) *Validator {
	domains := make(map[string]struct{}, len(VendorDomains))
	for _, d := range VendorDomains {
		domains[d] = struct{}{}
	}
	return &Validator{logger: logger, domains: domains}
}

// Validate parses raw and checks that it names the company list method of a
// REST webhook. Hosts outside the vendor domains only produce a warning.
func (v *Validator) Validate(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, &ValidationError{Reason: "empty url"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, &ValidationError{Reason: "malformed url", Err: err}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Endpoint{}, &ValidationError{Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Hostname() == "" {
		return Endpoint{}, &ValidationError{Reason: "missing host"}
	}
	if u.Scheme == "http" && !IsLoopback(u.Hostname()) {
		return Endpoint{}, &ValidationError{Reason: "plain http is only accepted for loopback hosts"}
	}

	if !strings.Contains(u.Path, RESTMarker) {
		return Endpoint{}, &ValidationError{Reason: fmt.Sprintf("path does not contain %q", RESTMarker)}
	}
	if !strings.Contains(u.Path, MethodMarker) {
		return Endpoint{}, &ValidationError{Reason: fmt.Sprintf("path does not contain %q", MethodMarker)}
	}

	ep := Endpoint{raw: raw, url: u}
	if !v.IsVendorHost(u.Hostname()) {
		v.logger.Warn().
			Str("host", u.Hostname()).
			Str("endpoint_key", ep.Key()).
			Msg("Webhook host is not a known Bitrix24 domain, assuming self-hosted installation")
	}

	return ep, nil
}

// IsLoopback reports whether host is localhost or a loopback address. Only
// those hosts may be reached over plain http.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsVendorHost reports whether host belongs to one of the vendor domains.
func (v *Validator) IsVendorHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if _, ok := v.domains[host]; ok {
		return true
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	if _, ok := v.domains[registrable]; ok {
		return true
	}

	// Zones the public suffix list splits differently from the vendor.
	for d := range v.domains {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
