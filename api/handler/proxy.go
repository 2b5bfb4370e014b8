// Package handler wires the rewrite/forward pipeline into a single
// catch-all HTTP handler.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/sso-adapter/audit"
	"github.com/ddevcap/sso-adapter/bodyformat"
	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/dispatch"
	"github.com/ddevcap/sso-adapter/forward"
	"github.com/ddevcap/sso-adapter/metrics"
	"github.com/ddevcap/sso-adapter/proxyerr"
	"github.com/ddevcap/sso-adapter/querymap"
	"github.com/ddevcap/sso-adapter/respwrite"
	"github.com/ddevcap/sso-adapter/rulemix"
	"github.com/ddevcap/sso-adapter/workingstate"
)

// Proxy is the catch-all handler: it resolves an upstream target, rewrites
// the request, forwards it, and either streams (SSE), redirects, or
// rewrites-and-returns the response.
type Proxy struct {
	settings  config.AppSettings
	rules     func() config.RuleSet
	forwarder *forward.Forwarder
	audit     *audit.Log
}

// New builds a Proxy. rules is called once per request so a SIGHUP-driven
// rule-file reload (see main.go) is picked up without restarting the server.
func New(settings config.AppSettings, rules func() config.RuleSet, fwd *forward.Forwarder, auditLog *audit.Log) *Proxy {
	return &Proxy{settings: settings, rules: rules, forwarder: fwd, audit: auditLog}
}

// Handle is the gin.HandlerFunc bound to the single catch-all route.
func (p *Proxy) Handle(c *gin.Context) {
	start := time.Now()
	req := c.Request
	path := req.URL.Path

	decision, err := dispatch.Resolve(p.settings, p.rules(), req)
	if err != nil {
		p.abort(c, err, path, false, "", start)
		return
	}

	ws, rawBody, origContentType, err := p.buildRequestState(req, decision)
	if err != nil {
		p.abort(c, err, path, decision.Matched, targetName(decision), start)
		return
	}

	method := dispatch.SelectMethod(req.Method, decision.Path.Request.MethodMapping)
	rulemix.ApplyRequest(decision.Path.Request.MixMappings, ws)

	if decision.Matched && decision.TargetKind == config.TargetRedirect {
		p.respondRedirect(c, decision, ws, path, start)
		return
	}

	outBody, outCT, err := p.encodeRequestBody(decision, ws, rawBody, origContentType)
	if err != nil {
		p.abort(c, err, path, decision.Matched, targetName(decision), start)
		return
	}
	if outCT != "" {
		ws.Headers.Set("Content-Type", outCT)
	} else {
		ws.Headers.Del("Content-Type")
	}

	wantSSE := decision.Matched && decision.TargetKind == config.TargetSSE && dispatch.EvaluateSSE(decision.SSESelector, ws)

	targetURL := decision.BaseURL + path
	if qs := querymap.Encode(ws.Query); qs != "" {
		targetURL += "?" + qs
	}

	var normalHost string
	if p.settings.Mode == config.ModeNormal {
		if u, err := url.Parse(decision.BaseURL); err == nil {
			normalHost = u.Host
		}
	}

	if wantSSE {
		metrics.SSEStreamsActive.Inc()
		defer metrics.SSEStreamsActive.Dec()
	}

	resp, err := p.forwarder.Do(req.Context(), forward.Request{
		Method:     method,
		URL:        targetURL,
		Headers:    ws.Headers,
		Body:       outBody,
		NormalHost: normalHost,
		WantSSE:    wantSSE,
	})
	if err != nil {
		p.abort(c, err, path, decision.Matched, targetName(decision), start)
		return
	}

	switch {
	case forward.IsRedirect(resp):
		p.passthroughRedirect(c, resp)
		p.finish(c, decision, path, resp.StatusCode, start)
	case wantSSE:
		if err := forward.StreamSSE(req.Context(), c.Writer, resp); err != nil {
			slog.Error("sse stream ended with error", "path", path, "error", err)
		}
		p.finish(c, decision, path, resp.StatusCode, start)
	default:
		p.respondBuffered(c, decision, resp, path, start)
	}
}

// buildRequestState parses the inbound request into a WorkingState: cloned
// headers, parsed query multimap, and (only for a matched path, since an
// unmatched path has no mix_mappings/body_conversion to apply and should
// pass its body through byte-for-byte) a flattened body map.
func (p *Proxy) buildRequestState(req *http.Request, decision dispatch.Decision) (*workingstate.WorkingState, []byte, string, error) {
	if requiresContentType(req.Method) && req.Header.Get("Content-Type") == "" {
		return nil, nil, "", proxyerr.RequestMalformed("handler: missing Content-Type on %s request", req.Method)
	}

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, nil, "", proxyerr.RequestMalformed("handler: reading request body: %v", err)
	}
	_ = req.Body.Close()

	query, err := querymap.Parse(req.URL.RawQuery)
	if err != nil {
		return nil, nil, "", proxyerr.RequestMalformed("handler: parsing query string: %v", err)
	}

	ws := workingstate.New()
	ws.Headers = req.Header.Clone()
	ws.Query = query

	contentType := req.Header.Get("Content-Type")
	if decision.Matched {
		if _, err := respwrite.ParseBody(ws, raw, contentType); err != nil {
			return nil, nil, "", err
		}
	}
	return ws, raw, contentType, nil
}

// requiresContentType is true only for POST and PUT; no other method is
// required to declare its body format.
func requiresContentType(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}

func (p *Proxy) encodeRequestBody(decision dispatch.Decision, ws *workingstate.WorkingState, raw []byte, origContentType string) ([]byte, string, error) {
	if !decision.Matched {
		return raw, origContentType, nil
	}
	return bodyformat.Encode(ws.Body, decision.Path.Request.BodyConversion, bodyformat.Original{
		Bytes:       raw,
		ContentType: origContentType,
	})
}

// respondRedirect issues the Redirect disposition: a 302 with Location set
// to the fully rewritten URL and an empty body, before any upstream call.
// gin's Context.Redirect is not used here because net/http.Redirect writes
// a short HTML body for GET/HEAD requests; this response must be empty.
func (p *Proxy) respondRedirect(c *gin.Context, decision dispatch.Decision, ws *workingstate.WorkingState, path string, start time.Time) {
	loc := dispatch.RedirectLocation(decision.BaseURL, path, ws.Query)
	c.Writer.Header().Set("Location", loc)
	c.Writer.WriteHeader(http.StatusFound)
	p.finish(c, decision, path, http.StatusFound, start)
}

// passthroughRedirect surfaces an upstream 3xx verbatim: status and Location
// preserved, empty body, no response rewriting.
func (p *Proxy) passthroughRedirect(c *gin.Context, resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()
	if loc := resp.Header.Get("Location"); loc != "" {
		c.Writer.Header().Set("Location", loc)
	}
	c.Writer.WriteHeader(resp.StatusCode)
}

func (p *Proxy) respondBuffered(c *gin.Context, decision dispatch.Decision, resp *http.Response, path string, start time.Time) {
	body, err := forward.BufferBody(resp)
	if err != nil {
		p.abort(c, err, path, decision.Matched, targetName(decision), start)
		return
	}

	out, err := respwrite.Process(respwrite.Input{
		Matched:    decision.Matched,
		Response:   decision.Path.Response,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Mode:       p.settings.Mode,
		SelfHost:   p.settings.SelfHost,
	})
	if err != nil {
		p.abort(c, err, path, decision.Matched, targetName(decision), start)
		return
	}

	for k, vs := range out.Headers {
		for i, v := range vs {
			if i == 0 {
				c.Writer.Header().Set(k, v)
			} else {
				c.Writer.Header().Add(k, v)
			}
		}
	}
	c.Status(out.StatusCode)
	_, _ = c.Writer.Write(out.Body)
	p.finish(c, decision, path, out.StatusCode, start)
}

func (p *Proxy) finish(c *gin.Context, decision dispatch.Decision, path string, status int, start time.Time) {
	target := targetName(decision)
	latency := time.Since(start)
	metrics.RecordForward(path, target, latency.Seconds())
	slog.Debug("forwarded", "path", path, "target", target, "status", status, "latency_ms", latency.Milliseconds())
	if p.audit != nil {
		if err := p.audit.Record(context.Background(), audit.Entry{
			Method:     c.Request.Method,
			Path:       path,
			Matched:    decision.Matched,
			Target:     target,
			Status:     status,
			Latency:    latency,
			OccurredAt: start,
		}); err != nil {
			slog.Error("audit record failed", "error", err)
		}
	}
}

func (p *Proxy) abort(c *gin.Context, err error, path string, matched bool, target string, start time.Time) {
	pe, ok := err.(*proxyerr.Error)
	status := http.StatusInternalServerError
	kind := "unknown"
	if ok {
		status = pe.Status
		kind = pe.Kind.String()
	}
	slog.Error("pipeline error", "path", path, "kind", kind, "error", err)
	metrics.RecordError(kind)
	c.JSON(status, gin.H{"error": err.Error()})

	latency := time.Since(start)
	if p.audit != nil {
		if auditErr := p.audit.Record(context.Background(), audit.Entry{
			Method:     c.Request.Method,
			Path:       path,
			Matched:    matched,
			Target:     target,
			Status:     status,
			Latency:    latency,
			OccurredAt: start,
		}); auditErr != nil {
			slog.Error("audit record failed", "error", auditErr)
		}
	}
}

func targetName(d dispatch.Decision) string {
	if !d.Matched && d.TargetKind == "" {
		return "outbound"
	}
	if d.TargetKind == "" {
		return "none"
	}
	return string(d.TargetKind)
}
