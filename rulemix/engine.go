// Package rulemix evaluates mix_mappings: each rule reads a value from one
// of {headers, query, body-map}, transforms it, and writes it into another,
// honouring the rule's action.
//
// The engine is an explicit 3×3 case analysis over (source namespace,
// target namespace) rather than polymorphic dispatch; the matrix is small
// enough that enumerating it is clearer than an abstraction.
package rulemix

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/flatmap"
	"github.com/ddevcap/sso-adapter/querymap"
	"github.com/ddevcap/sso-adapter/transform"
	"github.com/ddevcap/sso-adapter/workingstate"
)

// ApplyRequest evaluates every mapping in order against ws, supporting all
// nine (Header|Query|BodyField) × (Header|Query|BodyField) combinations.
// Rules apply strictly sequentially: later rules observe earlier mutations.
func ApplyRequest(mappings []config.MixMapping, ws *workingstate.WorkingState) {
	for _, m := range mappings {
		applyOne(m, ws, true)
	}
}

// ApplyResponse mirrors ApplyRequest but restricts sources and targets to
// Header and BodyField — a response has no query string to rewrite. A
// mapping naming Query on either side is a no-op rather than an error.
func ApplyResponse(mappings []config.MixMapping, ws *workingstate.WorkingState) {
	for _, m := range mappings {
		if m.Source.Namespace == config.NamespaceQuery || m.Target.Namespace == config.NamespaceQuery {
			continue
		}
		applyOne(m, ws, false)
	}
}

func applyOne(m config.MixMapping, ws *workingstate.WorkingState, allowQuery bool) {
	src, dst := m.Source, m.Target
	switch src.Namespace {
	case config.NamespaceHeader:
		vals, ok := readHeader(ws.Headers, m.Action, src.Key)
		if !ok {
			return
		}
		value := transformScalar(strings.Join(vals, ","), m.Transformations)
		writeScalar(ws, dst, value)

	case config.NamespaceQuery:
		if !allowQuery {
			return
		}
		vals, ok := readQuery(ws.Query, m.Action, src.Key)
		if !ok {
			return
		}
		joined := strings.Join(vals, ",")
		transformed, changed := transform.Apply(joined, m.Transformations)
		if len(m.Transformations) > 0 {
			if !changed {
				return
			}
			vals = strings.Split(transformed, ",")
		}
		writeFromQuery(ws, dst, vals)

	case config.NamespaceBodyField:
		collected, ok := readBody(ws.Body, m.Action, src.Key)
		if !ok {
			return
		}
		// Body-sourced writes skip transformations: a collected subtree has
		// no single scalar for a pipeline to run on.
		writeFromBody(ws, dst, src.Key, m.Action, collected)
	}
}

// --- reads ---

func readHeader(h map[string][]string, action config.Action, name string) ([]string, bool) {
	canon := canonicalHeader(h, name)
	switch action.Kind {
	case config.ActionMove:
		vals, ok := h[canon]
		if !ok || len(vals) == 0 {
			return nil, false
		}
		delete(h, canon)
		return vals, true
	case config.ActionCopy:
		vals, ok := h[canon]
		if !ok || len(vals) == 0 {
			return nil, false
		}
		return append([]string(nil), vals...), true
	case config.ActionAddTarget:
		return []string{action.Literal}, true
	case config.ActionDeleteSrc:
		delete(h, canon)
		return nil, false
	}
	return nil, false
}

// canonicalHeader finds the key in h that case-insensitively matches name,
// or returns name itself if none exists (http.Header canonicalizes on Set,
// but rule-file-authored names may not be in canonical form).
func canonicalHeader(h map[string][]string, name string) string {
	for k := range h {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

func readQuery(q querymap.Multimap, action config.Action, name string) ([]string, bool) {
	switch action.Kind {
	case config.ActionMove:
		vals, ok := q[name]
		if !ok || len(vals) == 0 {
			return nil, false
		}
		delete(q, name)
		return vals, true
	case config.ActionCopy:
		vals, ok := q[name]
		if !ok || len(vals) == 0 {
			return nil, false
		}
		return append([]string(nil), vals...), true
	case config.ActionAddTarget:
		return []string{action.Literal}, true
	case config.ActionDeleteSrc:
		delete(q, name)
		return nil, false
	}
	return nil, false
}

// readBody gathers the subfields addressed by path: an exact match if one
// exists, else every key with prefix "path.". The collected set maps a key
// (the absolute path itself on an exact match, or the relative suffix on a
// prefix match) to its value — this dual representation is what lets
// deletion and rewrite both work uniformly, see deleteBodyKeys / bodyNewKey.
func readBody(body map[string]any, action config.Action, path string) (map[string]any, bool) {
	if action.Kind == config.ActionAddTarget {
		return nil, true // no source read; handled directly in writeFromBody
	}

	collected := gatherBody(body, path)
	if len(collected) == 0 {
		return nil, false
	}

	switch action.Kind {
	case config.ActionMove, config.ActionDeleteSrc:
		deleteBodyKeys(body, path, collected)
		if action.Kind == config.ActionDeleteSrc {
			return nil, false
		}
		return collected, true
	case config.ActionCopy:
		return collected, true
	}
	return nil, false
}

func gatherBody(body map[string]any, path string) map[string]any {
	if v, ok := body[path]; ok {
		return map[string]any{path: v}
	}
	collected := make(map[string]any)
	for k, v := range body {
		if rest, ok := flatmap.HasPathPrefix(k, path); ok {
			collected[rest] = v
		}
	}
	return collected
}

// deleteBodyKeys removes every key the collected set could have come from:
// "path.k" (the absolute key, when k is a relative suffix) and "k" (the
// absolute key directly, when k was itself the exact-match path). Both are
// deleted for every k, so a prefix match also removes a root-level key
// that happens to equal one of the collected suffixes.
func deleteBodyKeys(body map[string]any, path string, collected map[string]any) {
	for k := range collected {
		delete(body, path+"."+k)
		delete(body, k)
	}
}

// --- scalar (Header/Query-sourced) writes ---

func transformScalar(value string, stages []config.Transformation) string {
	if len(stages) == 0 {
		return value
	}
	if out, ok := transform.Apply(value, stages); ok {
		return out
	}
	return ""
}

func writeScalar(ws *workingstate.WorkingState, dst config.Ref, value string) {
	if value == "" {
		return
	}
	switch dst.Namespace {
	case config.NamespaceHeader:
		ws.Headers[dst.Key] = []string{value}
	case config.NamespaceQuery:
		ws.Query[dst.Key] = []string{value}
	case config.NamespaceBodyField:
		ws.Body[dst.Key] = value
	}
}

// writeFromQuery writes a Query-sourced read. Query→Query keeps the full
// vector (supporting multiple values); Query→Header/BodyField collapse the
// collection into a single string.
func writeFromQuery(ws *workingstate.WorkingState, dst config.Ref, vals []string) {
	if len(vals) == 0 {
		return
	}
	switch dst.Namespace {
	case config.NamespaceQuery:
		ws.Query[dst.Key] = vals
	case config.NamespaceHeader:
		ws.Headers[dst.Key] = []string{collapseQueryValues(dst.Key, vals)}
	case config.NamespaceBodyField:
		ws.Body[dst.Key] = strings.Join(vals, ",")
	}
}

// collapseQueryValues renders repeated query values under the same name as
// sorted "{key}={value}" pairs joined by "; ", with a single-value shortcut
// (just the raw value) mirroring the body-side collapse below.
func collapseQueryValues(name string, vals []string) string {
	if len(vals) == 1 {
		return vals[0]
	}
	pairs := make([]string, 0, len(vals))
	for _, v := range vals {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "; ")
}

// --- body-sourced writes ---

func writeFromBody(ws *workingstate.WorkingState, dst config.Ref, srcPath string, action config.Action, collected map[string]any) {
	if collected == nil {
		// AddTarget: no source read, insert the literal directly.
		insertBodyLiteral(ws, dst, action.Literal)
		return
	}
	insertBodyWrite(ws, dst, srcPath, collected)
}

// insertBodyLiteral writes an AddTarget literal directly into the target
// namespace, bypassing any source read.
func insertBodyLiteral(ws *workingstate.WorkingState, dst config.Ref, literal string) {
	switch dst.Namespace {
	case config.NamespaceBodyField:
		ws.Body[dst.Key] = literal
	case config.NamespaceHeader:
		ws.Headers[dst.Key] = []string{literal}
	case config.NamespaceQuery:
		ws.Query[dst.Key] = []string{literal}
	}
}

func insertBodyWrite(ws *workingstate.WorkingState, dst config.Ref, srcPath string, collected map[string]any) {
	switch dst.Namespace {
	case config.NamespaceBodyField:
		for k, v := range collected {
			ws.Body[bodyNewKey(k, srcPath, dst.Key)] = v
		}
	case config.NamespaceHeader:
		ws.Headers[dst.Key] = []string{collapseBody(collected)}
	case config.NamespaceQuery:
		ws.Query[dst.Key] = []string{collapseBody(collected)}
	}
}

// bodyNewKey rewrites a collected key under the destination path: k is
// either the exact-match absolute path (then the whole key becomes dst) or a
// relative suffix from a prefix match (then it becomes "dst.suffix").
func bodyNewKey(k, path, dst string) string {
	if k == path {
		return dst
	}
	return dst + "." + k
}

// collapseBody flattens a collected set into one string: a single-entry
// collection passes through as its raw stringified value; a multi-entry
// collection renders as "{key}={value}" pairs, sorted ascending, joined by
// "; ".
func collapseBody(collected map[string]any) string {
	if len(collected) == 1 {
		for _, v := range collected {
			return stringifyLeaf(v)
		}
	}
	pairs := make([]string, 0, len(collected))
	for k, v := range collected {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, stringifyLeaf(v)))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "; ")
}

func stringifyLeaf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
