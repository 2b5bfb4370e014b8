// Package bodyformat serialises a working body map into either JSON or
// form-urlencoded bytes, choosing the egress content-type to match.
package bodyformat

import (
	"encoding/json"
	"fmt"

	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/flatmap"
	"github.com/ddevcap/sso-adapter/proxyerr"
	"github.com/ddevcap/sso-adapter/querymap"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// Original carries the pristine request/response bytes and content-type seen
// on the wire, used as the passthrough fallback when the body map ends up
// empty and no conversion was configured. Keeping the exact backing bytes
// guarantees byte-for-byte passthrough for untouched payloads.
type Original struct {
	Bytes       []byte
	ContentType string
}

// Encode serialises body per conversion, falling back to orig when body is
// empty and no conversion is configured. Returns the egress bytes and
// content-type.
func Encode(body map[string]any, conversion *config.BodyConversion, orig Original) ([]byte, string, error) {
	if conversion == nil {
		if len(body) == 0 {
			return orig.Bytes, orig.ContentType, nil
		}
		return encodeJSON(body)
	}

	switch *conversion {
	case config.BodyFormToJSON:
		return encodeJSON(body)
	case config.BodyJSONToForm:
		return encodeForm(body)
	default:
		return nil, "", proxyerr.SerialisationInternal("bodyformat: unknown body_conversion %q", *conversion)
	}
}

// encodeJSON unflattens body and marshals it, except for the root-scalar
// degenerate case, which passes through as the raw string — this preserves
// opaque single-field payloads.
func encodeJSON(body map[string]any) ([]byte, string, error) {
	if raw, ok := rootScalarEntry(body); ok {
		return []byte(raw), ContentTypeJSON, nil
	}
	nested := flatmap.Unflatten(body)
	out, err := json.Marshal(nested)
	if err != nil {
		return nil, "", proxyerr.SerialisationInternal("bodyformat: marshaling json body: %v", err)
	}
	return out, ContentTypeJSON, nil
}

// encodeForm url-encodes every flat entry directly (no unflatten — a form
// body has no nesting), except for the same root-scalar degenerate case.
func encodeForm(body map[string]any) ([]byte, string, error) {
	if raw, ok := rootScalarEntry(body); ok {
		return []byte(raw), ContentTypeForm, nil
	}
	m := make(querymap.Multimap, len(body))
	for k, v := range body {
		m[k] = []string{stringifyScalar(v)}
	}
	return []byte(querymap.Encode(m)), ContentTypeForm, nil
}

// rootScalarEntry reports whether body is exactly the single entry
// flatmap.Flatten produces for a top-level JSON/form scalar: keyed by the
// empty string. A flattened object that happens to have exactly one
// string-valued leaf (e.g. {"auth.token": "abc"}) is NOT this case and must
// still be unflattened/encoded normally.
func rootScalarEntry(body map[string]any) (string, bool) {
	if len(body) != 1 {
		return "", false
	}
	v, ok := body[""]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
