// Package querymap implements bidirectional conversion between a URL-encoded
// query string and a multi-valued key-value map that preserves repeated-key
// value order.
package querymap

import (
	"net/url"
	"sort"
	"strings"
)

// Multimap is an ordered-per-key collection of query values. Key iteration
// order across the whole map is not significant; value order within a key
// is.
type Multimap map[string][]string

// Parse decodes an application/x-www-form-urlencoded query string into a
// Multimap, preserving the order in which repeated keys appear.
func Parse(query string) (Multimap, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	out := make(Multimap, len(values))
	for k, vs := range values {
		out[k] = append([]string(nil), vs...)
	}
	return out, nil
}

// Encode serialises m back into a query string: one "k=v" pair per value,
// multi-valued keys emitting one pair per value in insertion order, pairs
// percent-encoded per the form-encoding rules.
func Encode(m Multimap) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	first := true
	for _, k := range keys {
		for _, v := range m[k] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Get returns the first value for key, or "" if absent.
func (m Multimap) Get(key string) string {
	if vs, ok := m[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Joined returns every value for key joined by ",", the comma-joined
// stringification a multi-valued query entry collapses to.
func (m Multimap) Joined(key string) string {
	return strings.Join(m[key], ",")
}

// Clone returns a deep copy of m.
func (m Multimap) Clone() Multimap {
	out := make(Multimap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}
