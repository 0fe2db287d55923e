package flow

import "testing"

func TestBody_ClearInvariant(t *testing.T) {
	b := NewBody([]byte("hello"))
	b.Clear()
	if !b.IsEmpty() {
		t.Fatal("expected IsEmpty true after Clear")
	}
	if b.Length() != 0 {
		t.Fatalf("expected length 0 after Clear, got %d", b.Length())
	}
}

func TestBody_SetTextReplacesBytes(t *testing.T) {
	b := NewBody([]byte("0123456789"))
	b.SetText("len is 10 request")
	if b.Text() != "len is 10 request" {
		t.Fatalf("got %q", b.Text())
	}
	if b.Length() != len("len is 10 request") {
		t.Fatalf("got length %d", b.Length())
	}
}

func TestBody_TextInvalidUTF8ReturnsEmpty(t *testing.T) {
	b := NewBody([]byte{0xff, 0xfe, 0xfd})
	if b.Text() != "" {
		t.Fatalf("expected empty text for invalid utf8, got %q", b.Text())
	}
}

func TestBody_SetBytesExact(t *testing.T) {
	b := NewBody(nil)
	raw := []byte{0x00, 0x01, 0x02}
	b.SetBytes(raw)
	if string(b.Bytes()) != string(raw) {
		t.Fatal("SetBytes did not round-trip exactly")
	}
}

func TestBody_LegacyAliases(t *testing.T) {
	b := NewBody([]byte("abc"))
	if b.Len() != b.Length() {
		t.Fatal("Len() legacy alias diverges from Length()")
	}
	if b.IsEmptyFunc() != b.IsEmpty() {
		t.Fatal("IsEmptyFunc() legacy alias diverges from IsEmpty()")
	}
}
