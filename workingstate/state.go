// Package workingstate holds the per-request mutable state the rule engine
// reads from and writes to: headers, query parameters, and the flattened
// body map.
package workingstate

import (
	"net/http"

	"github.com/ddevcap/sso-adapter/querymap"
)

// WorkingState is created on request arrival, mutated in place by the rule
// engine across its namespaces, and consumed by the body-format converter
// and forwarder. It is task-local: never shared across requests.
type WorkingState struct {
	// Headers is a multimap of header name to its values. http.Header's
	// Get/Set/Add/Del canonicalize names; direct map indexing does not.
	Headers http.Header
	// Query preserves repeated-key value order.
	Query querymap.Multimap
	// Body is the flattened JSON/form body: one entry per leaf value.
	Body map[string]any
}

// New returns an empty WorkingState ready for a fresh request.
func New() *WorkingState {
	return &WorkingState{
		Headers: make(http.Header),
		Query:   make(querymap.Multimap),
		Body:    make(map[string]any),
	}
}
