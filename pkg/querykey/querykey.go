// Package querykey derives stable CacheKey strings from a query name and an
// optional parameter value.
//
// Two queries sharing a key share cached data, so the parameter value
// itself — not just its shape — has to be part of the key: differently
// parameterised calls to the same query name must land in different
// cache entries.
package querykey

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Derive returns a stable string key for name plus param. Equal params
// (by value, not identity) always produce the same key; maps are encoded
// with sorted keys so key order never affects the result.
//
// A nil param collapses to the bare name: a query name plus, for
// parameterised queries, a deterministic stringification of the parameter.
func Derive(name string, param any) string {
	if param == nil {
		return name
	}
	canon := canonicalize(param)
	encoded, err := json.Marshal(canon)
	if err != nil {
		// Values that cannot be JSON-encoded (channels, funcs) are a
		// programmer error; fall back to a best-effort %#v so Derive never
		// panics on a bad parameter type.
		return fmt.Sprintf("%s?%#v", name, param)
	}
	return fmt.Sprintf("%s?%s", name, encoded)
}

// canonicalize walks maps and slices, replacing every map[string]any at any
// nesting depth with an orderedMap whose entries are in sorted key order.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(t))
		for _, k := range keys {
			out = append(out, kv{k, canonicalize(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

type kv struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object preserving the (already sorted)
// insertion order of its entries, since Go's map[string]any would otherwise
// re-sort (harmlessly, but redundantly) or, for non-string-keyed maps,
// wouldn't marshal deterministically at all.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
