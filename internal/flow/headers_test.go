package flow

import "testing"

func TestHeaders_GetCaseInsensitive(t *testing.T) {
	h := NewHeaders()
	h.Append("Content-Type", "text/plain")

	if v, ok := h.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("Get(content-type) = %q, %v", v, ok)
	}
	if v, ok := h.Get("CONTENT-TYPE"); !ok || v != "text/plain" {
		t.Fatalf("Get(CONTENT-TYPE) = %q, %v", v, ok)
	}
}

func TestHeaders_GetEmptyReturnsNone(t *testing.T) {
	h := NewHeaders()
	if _, ok := h.Get("X-Missing"); ok {
		t.Fatal("expected none for empty header set")
	}
}

func TestHeaders_SetReplacesAll(t *testing.T) {
	h := NewHeaders()
	h.Append("X-Header1", "a")
	h.Append("X-Header1", "b")
	h.Set("X-Header1", "request")

	all := h.GetAll("X-Header1")
	if len(all) != 1 || all[0] != "request" {
		t.Fatalf("expected single field after Set, got %v", all)
	}
}

func TestHeaders_AppendPreservesOrder(t *testing.T) {
	h := NewHeaders()
	h.Append("X-A", "1")
	h.Append("X-B", "2")
	h.Append("X-A", "3")

	items := h.Items(true)
	want := []Pair{{"X-A", "1"}, {"X-B", "2"}, {"X-A", "3"}}
	if len(items) != len(want) {
		t.Fatalf("got %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, items[i], want[i])
		}
	}
}

func TestHeaders_FoldedItemsJoinWithCommaSpace(t *testing.T) {
	h := NewHeaders()
	h.Append("X-A", "1")
	h.Append("X-B", "2")
	h.Append("X-A", "3")

	folded := h.Items(false)
	if len(folded) != 2 {
		t.Fatalf("expected 2 folded entries, got %d", len(folded))
	}
	if folded[0].Name != "X-A" || folded[0].Value != "1, 3" {
		t.Fatalf("got %+v", folded[0])
	}
	if folded[1].Name != "X-B" || folded[1].Value != "2" {
		t.Fatalf("got %+v", folded[1])
	}
}

func TestHeaders_DeleteRemovesAll(t *testing.T) {
	h := NewHeaders()
	h.Append("X-A", "1")
	h.Append("X-A", "2")
	h.Delete("x-a")

	if h.Has("X-A") {
		t.Fatal("expected X-A removed")
	}
	if h.Len() != 0 {
		t.Fatalf("expected 0 fields, got %d", h.Len())
	}
}

func TestHeaders_Clear(t *testing.T) {
	h := NewHeaders()
	h.Append("X-A", "1")
	h.Clear()
	if h.Len() != 0 || h.Has("X-A") {
		t.Fatal("expected headers cleared")
	}
}

func TestHeaders_Insert(t *testing.T) {
	h := NewHeaders()
	h.Append("X-A", "1")
	h.Append("X-C", "3")
	h.Insert(1, "X-B", "2")

	items := h.Items(true)
	want := []string{"X-A", "X-B", "X-C"}
	for i, w := range want {
		if items[i].Name != w {
			t.Fatalf("position %d: got %q want %q", i, items[i].Name, w)
		}
	}
}

func TestHeaders_String(t *testing.T) {
	h := NewHeaders()
	h.Append("Host", "example.com")
	h.Append("X-A", "1")

	got := h.String()
	want := "Host: example.com\r\nX-A: 1\r\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestHeaders_CaseInsensitiveLookupInvariant(t *testing.T) {
	h := NewHeaders()
	h.Append("X-Mixed-Case", "v")

	cases := []string{"X-Mixed-Case", "x-mixed-case", "X-MIXED-CASE", "x-Mixed-case"}
	var want *string
	for _, c := range cases {
		v, ok := h.Get(c)
		if !ok {
			t.Fatalf("Get(%q) missing", c)
		}
		if want == nil {
			want = &v
		} else if v != *want {
			t.Fatalf("Get(%q) = %q, want %q", c, v, *want)
		}
	}
}

func TestHeaders_Clone(t *testing.T) {
	h := NewHeaders()
	h.Append("X-A", "1")
	clone := h.Clone()
	clone.Append("X-B", "2")

	if h.Has("X-B") {
		t.Fatal("mutation of clone leaked into original")
	}
}
