package models

import "strings"

// Header is the column layout shared by every record read from one source.
type Header struct {
	Names []string
	pos   map[string]int
}

// NewHeader builds a header from the column names in file order.
// Names are trimmed; when a name repeats, the first column wins.
func NewHeader(names []string) *Header {
	h := &Header{Names: make([]string, len(names)), pos: make(map[string]int, len(names))}
	for i, n := range names {
		n = strings.TrimSpace(n)
		h.Names[i] = n
		if _, dup := h.pos[n]; !dup {
			h.pos[n] = i
		}
	}
	return h
}

// Has reports whether the header contains the named column.
func (h *Header) Has(name string) bool {
	_, ok := h.pos[name]
	return ok
}

// RawRecord is one parsed source row together with its 0-based sequence index.
// Malformed rows consume an index too, so indices are stable across runs.
type RawRecord struct {
	Index  int64
	Header *Header
	Values []string
}

// Get returns the named field and whether the column exists.
func (r RawRecord) Get(name string) (string, bool) {
	if r.Header == nil {
		return "", false
	}
	i, ok := r.Header.pos[name]
	if !ok || i >= len(r.Values) {
		return "", false
	}
	return r.Values[i], true
}

// Value returns the named field, or "" when the column is missing.
func (r RawRecord) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Batch is an ordered group of documents covering the half-open
// source index range [Start, End).
type Batch struct {
	Seq       int64
	Start     int64
	End       int64
	Documents []Document
}

// Len returns the number of documents in the batch.
func (b Batch) Len() int {
	return len(b.Documents)
}

// PropertyKind is the scalar type an extracted property is registered under.
type PropertyKind int

const (
	KindBool PropertyKind = iota + 1
	KindInteger
	KindFloat
	KindString
)

func (k PropertyKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// ParsePropertyKind is the inverse of PropertyKind.String.
func ParsePropertyKind(s string) (PropertyKind, bool) {
	switch s {
	case "bool":
		return KindBool, true
	case "integer":
		return KindInteger, true
	case "float":
		return KindFloat, true
	case "string":
		return KindString, true
	default:
		return 0, false
	}
}
