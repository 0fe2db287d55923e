package flow

import "unicode/utf8"

// Body owns the bytes of a request or response body. Bodies
// may be streamed internally by the protocol engines but are always
// materialized as a single buffer by the time a script sees them.
type Body struct {
	raw []byte
}

// NewBody wraps raw bytes in a Body. A nil slice is treated as empty.
func NewBody(raw []byte) *Body {
	return &Body{raw: raw}
}

// Text returns a lossy UTF-8 view of the bytes. It returns "" when
// the bytes are not valid UTF-8, unless Text was set
// explicitly (in which case the bytes ARE the UTF-8 encoding of what
// was set, so this branch never triggers for script-written bodies).
func (b *Body) Text() string {
	if !utf8.Valid(b.raw) {
		return ""
	}
	return string(b.raw)
}

// SetText replaces the body with the UTF-8 encoding of s.
func (b *Body) SetText(s string) {
	b.raw = []byte(s)
}

// Bytes returns the opaque byte buffer. The caller must not mutate the
// returned slice; use SetBytes to replace it.
func (b *Body) Bytes() []byte { return b.raw }

// SetBytes replaces the body with exactly these bytes.
func (b *Body) SetBytes(raw []byte) { b.raw = raw }

// Length returns the number of bytes.
func (b *Body) Length() int { return len(b.raw) }

// IsEmpty reports whether the body has zero bytes.
func (b *Body) IsEmpty() bool { return len(b.raw) == 0 }

// Clear empties the body. After Clear, IsEmpty()==true and Length()==0.
func (b *Body) Clear() { b.raw = nil }

// Clone returns a deep copy for the script-executor ownership handoff.
func (b *Body) Clone() *Body {
	return &Body{raw: append([]byte(nil), b.raw...)}
}

// --- legacy aliases ---

// Len is a legacy alias for Length (older scripts used body.len).
func (b *Body) Len() int { return b.Length() }

// IsEmptyFunc is a legacy alias for scripts that call body.isEmpty()
// as a method rather than reading body.is_empty as a property; the
// host API layer binds whichever form the target language idiom needs
// to this same function.
func (b *Body) IsEmptyFunc() bool { return b.IsEmpty() }
