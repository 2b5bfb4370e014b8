// Package dispatch resolves an inbound request to its upstream target:
// path-scoped target selection, method mapping, redirect URL construction,
// and SSE-selector evaluation.
package dispatch

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/proxyerr"
	"github.com/ddevcap/sso-adapter/querymap"
	"github.com/ddevcap/sso-adapter/workingstate"
)

// Decision is the outcome of resolving an inbound request against the
// RuleSet and AppSettings: which PathConfig (if any) applies, and the base
// upstream URL the request side should forward to.
type Decision struct {
	// Matched is true iff path was found in the RuleSet.
	Matched bool
	// Path is the configuration for the matched path; zero value if
	// Matched is false.
	Path config.PathConfig
	// TargetKind is the request-side target_service in effect. For an
	// unmatched path this is synthesized: TargetDify for inbound requests,
	// TargetSSO is never synthesized (outbound unmatched requests forward
	// to their own original host, carried in BaseURL, with TargetKind left
	// empty to signal "no rule, no SSE, no redirect").
	TargetKind config.TargetServiceKind
	// SSESelector is the raw "<kind>-<name>" selector string when
	// TargetKind is TargetSSE; empty otherwise.
	SSESelector string
	// BaseURL is the scheme://host[:port] the rewritten request is issued
	// against, with no trailing slash.
	BaseURL string
}

// Resolve selects the upstream target for an inbound request, in order:
//  1. exact path lookup in rules;
//  2. if found, target_service picks Dify / (SSO-or-original-host) / Redirect / SSE;
//  3. if not found in Proxy mode, inbound-vs-outbound by dify_host;
//  4. if not found in Normal mode, PathUnknown (404).
func Resolve(settings config.AppSettings, rules config.RuleSet, req *http.Request) (Decision, error) {
	if pc, ok := rules[req.URL.Path]; ok {
		return resolveMatched(settings, pc, req)
	}
	return resolveUnmatched(settings, req)
}

func resolveMatched(settings config.AppSettings, pc config.PathConfig, req *http.Request) (Decision, error) {
	d := Decision{Matched: true, Path: pc}
	ts := pc.Request.TargetService
	if ts == nil {
		// No target_service configured: treat like Dify, the primary
		// upstream, so a path entry can exist purely to apply mix_mappings.
		d.TargetKind = config.TargetDify
		d.BaseURL = trimTrailingSlash(settings.DifyURL)
		return d, nil
	}

	d.TargetKind = ts.Kind
	switch ts.Kind {
	case config.TargetDify:
		d.BaseURL = trimTrailingSlash(settings.DifyURL)
	case config.TargetSSO:
		d.BaseURL = ssoOrOriginalHost(settings, req)
	case config.TargetRedirect:
		d.BaseURL = ssoOrOriginalHost(settings, req)
	case config.TargetSSE:
		d.SSESelector = ts.Selector
		d.BaseURL = ssoOrOriginalHost(settings, req)
	default:
		return Decision{}, proxyerr.RequestMalformed("dispatch: unknown target_service kind %q", ts.Kind)
	}
	return d, nil
}

// ssoOrOriginalHost is SSO|Redirect|SSE's base URL: sso_url in Normal mode,
// the request's own original host in Proxy mode.
func ssoOrOriginalHost(settings config.AppSettings, req *http.Request) string {
	if settings.Mode == config.ModeNormal {
		return trimTrailingSlash(settings.SSOURL)
	}
	return originalHostBaseURL(req)
}

func resolveUnmatched(settings config.AppSettings, req *http.Request) (Decision, error) {
	if settings.Mode == config.ModeNormal {
		return Decision{}, proxyerr.PathUnknown("dispatch: no rule for path %q", req.URL.Path)
	}
	// Proxy mode: inbound iff the URI host equals dify_host, ports stripped
	// from both sides before comparing.
	if hostWithoutPort(requestHost(req)) == hostWithoutPort(settings.DifyHost) {
		return Decision{TargetKind: config.TargetDify, BaseURL: trimTrailingSlash(settings.DifyURL)}, nil
	}
	return Decision{BaseURL: originalHostBaseURL(req)}, nil
}

// originalHostBaseURL builds "<scheme>://<original-host>" from the inbound
// request, used for Proxy-mode outbound forwarding and for SSO/Redirect/SSE
// targets in Proxy mode.
func originalHostBaseURL(req *http.Request) string {
	scheme := requestScheme(req)
	return scheme + "://" + requestHost(req)
}

func requestHost(req *http.Request) string {
	if req.URL.Host != "" {
		return req.URL.Host
	}
	return req.Host
}

// requestScheme is the inbound URI's scheme when the client sent an absolute
// URI, defaulting to https otherwise.
func requestScheme(req *http.Request) string {
	if req.URL.Scheme != "" {
		return req.URL.Scheme
	}
	return "https"
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func trimTrailingSlash(u string) string {
	return strings.TrimRight(u, "/")
}

// SelectMethod applies method_mapping to the inbound method: GetToPost ->
// POST, PostToGet -> GET; nil mapping leaves it unchanged.
func SelectMethod(original string, mapping *config.MethodMapping) string {
	if mapping == nil {
		return original
	}
	switch *mapping {
	case config.MethodGetToPost:
		return http.MethodPost
	case config.MethodPostToGet:
		return http.MethodGet
	}
	return original
}

// RedirectLocation builds the fully rewritten URL for the Redirect
// disposition: base + path + "?" + rewritten query.
func RedirectLocation(baseURL, path string, query querymap.Multimap) string {
	loc := trimTrailingSlash(baseURL) + path
	if qs := querymap.Encode(query); qs != "" {
		loc += "?" + qs
	}
	return loc
}

// sseSelectorParts splits a "<kind>-<name>" selector into its namespace kind
// and key. The name may itself contain '-', so the split happens on the
// first occurrence only.
func sseSelectorParts(selector string) (config.NamespaceKind, string, bool) {
	i := strings.IndexByte(selector, '-')
	if i < 0 {
		return "", "", false
	}
	kind := selector[:i]
	name := selector[i+1:]
	switch config.NamespaceKind(kind) {
	case config.NamespaceHeader, config.NamespaceBodyField, config.NamespaceQuery:
		return config.NamespaceKind(kind), name, true
	}
	return "", "", false
}

// EvaluateSSE reads the value addressed by selector out of the rewritten
// WorkingState and reports whether it parses as the boolean true, gating SSE
// mode. An absent key, or a value that isn't boolean true, means no
// streaming.
func EvaluateSSE(selector string, ws *workingstate.WorkingState) bool {
	kind, name, ok := sseSelectorParts(selector)
	if !ok {
		return false
	}
	switch kind {
	case config.NamespaceBodyField:
		v, ok := ws.Body[name]
		if !ok {
			return false
		}
		if b, ok := v.(bool); ok {
			return b
		}
		if s, ok := v.(string); ok {
			b, _ := strconv.ParseBool(s)
			return b
		}
		return false
	case config.NamespaceHeader:
		vals := ws.Headers[canonicalKey(ws.Headers, name)]
		if len(vals) == 0 {
			return false
		}
		b, _ := strconv.ParseBool(vals[0])
		return b
	case config.NamespaceQuery:
		vals, ok := ws.Query[name]
		if !ok || len(vals) == 0 {
			return false
		}
		b, _ := strconv.ParseBool(vals[0])
		return b
	}
	return false
}

func canonicalKey(h map[string][]string, name string) string {
	for k := range h {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}
