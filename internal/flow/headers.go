package flow

import "strings"

// field is a single raw header field exactly as inserted — case of the
// name is preserved for rendering even though lookups fold it.
type field struct {
	name  string
	value string
}

// Headers is an ordered multimap of header fields. Keys compare
// case-insensitively; insertion order (including repeats) is preserved
// for rendering and for Items(multi=true).
//
// Storage is a vector of (raw name, value) pairs plus a secondary
// index from lowercased name to positions; mutators keep both in sync.
type Headers struct {
	fields []field
	index  map[string][]int // lowercased name -> positions in fields
}

// NewHeaders returns an empty Headers collection.
func NewHeaders() *Headers {
	return &Headers{index: make(map[string][]int)}
}

func foldName(name string) string {
	return strings.ToLower(name)
}

// Get returns the first value for name, or ("", false) if absent.
// Lookups are case-insensitive.
func (h *Headers) Get(name string) (string, bool) {
	positions := h.index[foldName(name)]
	if len(positions) == 0 {
		return "", false
	}
	return h.fields[positions[0]].value, true
}

// GetAll returns every value for name in insertion order.
func (h *Headers) GetAll(name string) []string {
	positions := h.index[foldName(name)]
	if len(positions) == 0 {
		return nil
	}
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		out = append(out, h.fields[p].value)
	}
	return out
}

// Has reports whether any field with name exists.
func (h *Headers) Has(name string) bool {
	return len(h.index[foldName(name)]) > 0
}

// Set removes every field named name, then appends one field with value.
func (h *Headers) Set(name, value string) {
	h.Delete(name)
	h.Append(name, value)
}

// Append adds a field without removing any existing field of the same name.
func (h *Headers) Append(name, value string) {
	h.insertAt(len(h.fields), name, value)
}

// Insert adds a field at a raw-position index, clamped to [0, len].
func (h *Headers) Insert(index int, name, value string) {
	if index < 0 {
		index = 0
	}
	if index > len(h.fields) {
		index = len(h.fields)
	}
	h.insertAt(index, name, value)
}

func (h *Headers) insertAt(index int, name, value string) {
	f := field{name: name, value: value}
	h.fields = append(h.fields, field{})
	copy(h.fields[index+1:], h.fields[index:])
	h.fields[index] = f
	h.reindex()
}

// Delete removes every field named name.
func (h *Headers) Delete(name string) {
	folded := foldName(name)
	if _, ok := h.index[folded]; !ok {
		return
	}
	kept := h.fields[:0:0]
	for _, f := range h.fields {
		if foldName(f.name) == folded {
			continue
		}
		kept = append(kept, f)
	}
	h.fields = kept
	h.reindex()
}

// Clear removes every field.
func (h *Headers) Clear() {
	h.fields = nil
	h.index = make(map[string][]int)
}

// Pair is a raw (name, value) tuple, case preserved, as inserted.
type Pair struct {
	Name  string
	Value string
}

// Items yields header pairs. With multi=false (folded), each distinct
// name (by first-appearance order) appears once, with repeated values
// comma-joined by ", ". With multi=true, every raw field is
// returned, case preserved, in insertion order.
func (h *Headers) Items(multi bool) []Pair {
	if multi {
		out := make([]Pair, len(h.fields))
		for i, f := range h.fields {
			out[i] = Pair{Name: f.name, Value: f.value}
		}
		return out
	}

	var out []Pair
	seen := make(map[string]int) // folded name -> index in out
	for _, f := range h.fields {
		folded := foldName(f.name)
		if idx, ok := seen[folded]; ok {
			out[idx].Value += ", " + f.value
			continue
		}
		seen[folded] = len(out)
		out = append(out, Pair{Name: f.name, Value: f.value})
	}
	return out
}

// Len returns the number of raw fields.
func (h *Headers) Len() int { return len(h.fields) }

// reindex rebuilds the lowercase-name -> positions index from scratch.
// Called after any structural mutation; fields are rarely numerous
// enough for this to matter.
func (h *Headers) reindex() {
	h.index = make(map[string][]int, len(h.fields))
	for i, f := range h.fields {
		folded := foldName(f.name)
		h.index[folded] = append(h.index[folded], i)
	}
}

// String renders the raw fields as "Name: value\r\n" per field, no
// trailing blank line, in raw insertion order.
func (h *Headers) String() string {
	var b strings.Builder
	for _, f := range h.fields {
		b.WriteString(f.name)
		b.WriteString(": ")
		b.WriteString(f.value)
		b.WriteString("\r\n")
	}
	return b.String()
}

// Clone returns a deep copy, used when a flow is handed to a script
// executor so mutations during dispatch can't race the serializing
// engine goroutine.
func (h *Headers) Clone() *Headers {
	clone := &Headers{fields: append([]field(nil), h.fields...)}
	clone.reindex()
	return clone
}
