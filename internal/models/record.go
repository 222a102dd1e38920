// Package models holds the data shapes shared between the local store,
// the remote adapter and the sync façade.
package models

// Record is one logical row as seen by the application: a flat field map
// with a required "id". The schema is open on purpose. Notes carry
// title/body, checklist items carry text/checked/column/fixed, document
// catalog entries carry title/type.
type Record map[string]any

// ID returns the record identifier, or empty string when absent.
func (r Record) ID() string {
	return r.String("id")
}

// String returns the named field as a string, or empty string when the
// field is absent or not a string.
func (r Record) String(key string) string {
	v, ok := r[key].(string)
	if !ok {
		return ""
	}

	return v
}

// Bool returns the named field as a bool, defaulting to false.
func (r Record) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// Merge applies src onto dst field by field (last write wins) and
// returns dst. Neither input is required to be non-nil.
func Merge(dst, src Record) Record {
	if dst == nil {
		dst = make(Record, len(src))
	}

	for k, v := range src {
		dst[k] = v
	}

	return dst
}
