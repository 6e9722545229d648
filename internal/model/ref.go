package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Ref is a reference to another record by identity. Records arrive from the
// record store and the realtime channel with references either as a bare id
// or as an embedded object carrying "_id" or "id"; Ref accepts every shape and
// always marshals back to the bare id. Unreadable input yields the empty Ref.
type Ref string

// NormalizeRef returns the canonical form of a raw identity.
func NormalizeRef(raw string) Ref {
	return Ref(strings.TrimSpace(raw))
}

func (r Ref) String() string { return string(r) }

// IsZero reports whether the reference points nowhere.
func (r Ref) IsZero() bool { return strings.TrimSpace(string(r)) == "" }

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	*r = parseRef(data)
	return nil
}

func parseRef(data []byte) Ref {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return NormalizeRef(s)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return ""
		}
		for _, key := range []string{"_id", "id"} {
			if raw, ok := obj[key]; ok {
				if ref := parseRef(raw); !ref.IsZero() {
					return ref
				}
			}
		}
		return ""
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return ""
		}
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return ""
		}
		return NormalizeRef(n.String())
	}
}

// Refs is a list of references with the same lenient decoding as Ref.
// Entries that do not resolve to an identity are dropped.
type Refs []Ref

func (rs *Refs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*rs = nil
		return nil
	}
	out := make(Refs, 0, len(raw))
	for _, item := range raw {
		if ref := parseRef(item); !ref.IsZero() {
			out = append(out, ref)
		}
	}
	*rs = out
	return nil
}

// Strings returns the references as plain ids.
func (rs Refs) Strings() []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, string(r))
	}
	return out
}
