// Package proxyerr defines the error kinds the rewrite/forward pipeline can
// raise, each carrying the HTTP status it maps to at the edge.
package proxyerr

import (
	"fmt"
	"net/http"
)

// Kind identifies which error category a pipeline failure belongs to, per
// the propagation policy: the first error aborts the request and is
// translated to a single status+message response.
type Kind int

const (
	// KindConfigurationMissing means a required setting was absent for the
	// active mode. Fatal at startup, never seen at request time.
	KindConfigurationMissing Kind = iota
	// KindRuleFileParse means the rule file could not be parsed. Fatal at
	// startup, never seen at request time.
	KindRuleFileParse
	// KindRequestMalformed means the inbound request could not be rewritten:
	// missing Content-Type on POST/PUT, unparseable body, bad URI host.
	KindRequestMalformed
	// KindPathUnknown means Normal mode found no matching path.
	KindPathUnknown
	// KindUpstreamTransport means the upstream call failed at the
	// transport level (refused, DNS, TLS, body read).
	KindUpstreamTransport
	// KindSerialisationInternal means the working body could not be
	// re-serialised to its chosen wire format.
	KindSerialisationInternal
)

// Error is a pipeline failure with a fixed HTTP status and kind, returned in
// place of forwarding or redirecting once raised.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// String names the kind for metrics labels and log fields.
func (k Kind) String() string {
	switch k {
	case KindConfigurationMissing:
		return "configuration_missing"
	case KindRuleFileParse:
		return "rule_file_parse"
	case KindRequestMalformed:
		return "request_malformed"
	case KindPathUnknown:
		return "path_unknown"
	case KindUpstreamTransport:
		return "upstream_transport"
	case KindSerialisationInternal:
		return "serialisation_internal"
	default:
		return "unknown"
	}
}

func new(kind Kind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationMissing reports a required setting absent for the active mode.
func ConfigurationMissing(format string, args ...any) *Error {
	return new(KindConfigurationMissing, http.StatusInternalServerError, format, args...)
}

// RuleFileParse reports a malformed rule file.
func RuleFileParse(format string, args ...any) *Error {
	return new(KindRuleFileParse, http.StatusInternalServerError, format, args...)
}

// RequestMalformed reports a request that cannot be rewritten as configured.
func RequestMalformed(format string, args ...any) *Error {
	return new(KindRequestMalformed, http.StatusBadRequest, format, args...)
}

// PathUnknown reports Normal mode finding no matching path.
func PathUnknown(format string, args ...any) *Error {
	return new(KindPathUnknown, http.StatusNotFound, format, args...)
}

// UpstreamTransport reports a transport-level failure reaching the upstream.
func UpstreamTransport(format string, args ...any) *Error {
	return new(KindUpstreamTransport, http.StatusBadGateway, format, args...)
}

// SerialisationInternal reports a failure re-serialising the working body.
func SerialisationInternal(format string, args ...any) *Error {
	return new(KindSerialisationInternal, http.StatusInternalServerError, format, args...)
}
