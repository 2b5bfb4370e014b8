// Package respwrite is the mirror of the request-side rule engine and
// body-format converter, applied to the upstream response before it is
// returned to the client.
package respwrite

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ddevcap/sso-adapter/bodyformat"
	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/flatmap"
	"github.com/ddevcap/sso-adapter/proxyerr"
	"github.com/ddevcap/sso-adapter/querymap"
	"github.com/ddevcap/sso-adapter/rulemix"
	"github.com/ddevcap/sso-adapter/workingstate"
)

// Input is everything the response rewriter needs: the buffered upstream
// response and the context (matched path, settings) it is rewritten under.
type Input struct {
	// Matched is whether a RuleSet entry was found for this request's path.
	Matched bool
	// Response is the matched path's response SideConfig; zero value if
	// Matched is false.
	Response   config.SideConfig
	StatusCode int
	Headers    http.Header
	Body       []byte
	Mode       config.UseMode
	SelfHost   string
}

// Output is the rewritten response ready for the final egress write.
type Output struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Process applies the response-side mix_mappings and body conversion, then
// performs the egress bookkeeping: Content-Length recompute, chunked
// Transfer-Encoding wins, self_host rewrite in Normal mode.
func Process(in Input) (Output, error) {
	headers := in.Headers.Clone()
	contentType := headers.Get("Content-Type")

	if passthroughShortcut(in) {
		return finish(in.StatusCode, headers, in.Body, in.Mode, in.SelfHost), nil
	}

	ws := workingstate.New()
	ws.Headers = headers
	bodyRecognized, err := ParseBody(ws, in.Body, contentType)
	if err != nil {
		return Output{}, err
	}

	rulemix.ApplyResponse(in.Response.MixMappings, ws)

	var outBody []byte
	var outCT string
	if bodyRecognized {
		outBody, outCT, err = bodyformat.Encode(ws.Body, in.Response.BodyConversion, bodyformat.Original{
			Bytes:       in.Body,
			ContentType: contentType,
		})
		if err != nil {
			return Output{}, err
		}
	} else {
		// Content-type dispatch rejected the body: the original bytes pass
		// through untouched.
		outBody, outCT = in.Body, contentType
	}

	outHeaders := ws.Headers
	if outCT != "" {
		outHeaders.Set("Content-Type", outCT)
	}
	return finish(in.StatusCode, outHeaders, outBody, in.Mode, in.SelfHost), nil
}

// passthroughShortcut: no path match, no response mix_mappings, and no body
// conversion configured means the upstream bytes pass through verbatim.
func passthroughShortcut(in Input) bool {
	return !in.Matched && len(in.Response.MixMappings) == 0 && in.Response.BodyConversion == nil
}

// ParseBody populates ws.Body from raw per the content-type dispatch rules
// (application/json, text/plain parsed as JSON,
// application/x-www-form-urlencoded), reporting whether the content-type is
// one the rewriter understands. A recognized, declared content-type whose
// body fails to parse is a RequestMalformed error; an unrecognized type is
// (false, nil) and the caller passes the original bytes through. A sniffed
// type that fails to parse falls back to passthrough too, since the guess,
// not the body, may be what's wrong. Shared with the request-side handler,
// which needs the identical dispatch to support body_conversion in either
// direction.
func ParseBody(ws *workingstate.WorkingState, raw []byte, contentType string) (bool, error) {
	mimeType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	declared := mimeType != ""
	if !declared && len(raw) > 0 {
		// No Content-Type at all: sniff before falling back to verbatim
		// passthrough.
		mimeType, _, _ = strings.Cut(mimetype.Detect(raw).String(), ";")
	}

	switch mimeType {
	case "application/json", "text/plain":
		if len(raw) == 0 {
			ws.Body = map[string]any{}
			return true, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			if declared {
				return true, proxyerr.RequestMalformed("respwrite: parsing %s body as json: %v", mimeType, err)
			}
			return false, nil
		}
		ws.Body = flatmap.Flatten(v)
		return true, nil
	case "application/x-www-form-urlencoded":
		mm, err := querymap.Parse(string(raw))
		if err != nil {
			if declared {
				return true, proxyerr.RequestMalformed("respwrite: parsing form body: %v", err)
			}
			return false, nil
		}
		for k, vs := range mm {
			if len(vs) == 1 {
				ws.Body[k] = vs[0]
			} else {
				arr := make([]any, len(vs))
				for i, v := range vs {
					arr[i] = v
				}
				ws.Body[k] = arr
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

func finish(status int, headers http.Header, body []byte, mode config.UseMode, selfHost string) Output {
	if headers.Get("Transfer-Encoding") == "chunked" {
		headers.Del("Content-Length")
	} else {
		headers.Set("Content-Length", strconv.Itoa(len(body)))
	}
	if mode == config.ModeNormal && selfHost != "" {
		headers.Set("Host", selfHost)
	}
	return Output{StatusCode: status, Headers: headers, Body: body}
}
