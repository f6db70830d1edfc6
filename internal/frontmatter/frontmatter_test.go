package frontmatter

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplit_NoFrontmatter(t *testing.T) {
	doc := "# Just a heading\nSome text.\n"
	m, body, err := Split(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty map, got keys %v", m.Keys())
	}
	if body != doc {
		t.Errorf("body = %q, want whole document", body)
	}
}

func TestSplit_NestedBlockAndVerbatimBody(t *testing.T) {
	doc := "---\ntitle: Hello\nsocial:\n  text: Short note\n  lang: en\ndraft: false\n---\n\n# Hello\nBody text.\n"
	m, body, err := Split(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"title", "social", "draft"}) {
		t.Errorf("keys = %v", got)
	}
	if v, _ := m.Get("draft"); v != false {
		t.Errorf("draft = %#v, want false", v)
	}
	if v, ok := ReadField(m, "social.text"); !ok || v != "Short note" {
		t.Errorf("social.text = %#v, %v", v, ok)
	}
	if body != "\n# Hello\nBody text.\n" {
		t.Errorf("body = %q", body)
	}
}

func TestSplit_EmptyBlock(t *testing.T) {
	m, body, err := Split("---\n---\nbody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Len() != 0 || body != "body" {
		t.Errorf("map len = %d, body = %q", m.Len(), body)
	}
}

func TestSplit_DatesStayStrings(t *testing.T) {
	m, _, err := Split("---\ndate: 2026-02-01\n---\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := m.Get("date"); v != "2026-02-01" {
		t.Errorf("date = %#v", v)
	}
}

func TestSplit_MissingSeparator(t *testing.T) {
	_, _, err := Split("---\ntitle: Hi\njust words\n---\nbody\n")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line != 3 || pe.Text != "just words" {
		t.Errorf("ParseError = %+v", pe)
	}
}

func TestSplit_ScalarBlockRejected(t *testing.T) {
	_, _, err := Split("---\nnot a mapping\n---\n")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line != 2 {
		t.Errorf("line = %d, want 2", pe.Line)
	}
}

func TestSplit_Unterminated(t *testing.T) {
	_, _, err := Split("---\ntitle: Hi\nbody without end\n")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestSplit_DuplicateKey(t *testing.T) {
	_, _, err := Split("---\ntitle: a\ntitle: b\n---\n")
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestReadField(t *testing.T) {
	m, _, err := Split("---\na:\n  b:\n    c: deep\n  flat: 3\nx: y\n---\n")
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"a.b.c", "deep", true},
		{"a.flat", 3, true},
		{"x", "y", true},
		{"a.missing", nil, false},
		{"x.y", nil, false},
		{"a.flat.z", nil, false},
		{"nope", nil, false},
	}
	for _, tt := range tests {
		got, ok := ReadField(m, tt.path)
		if ok != tt.ok || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ReadField(%q) = %#v, %v; want %#v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUpsertField(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "insert before closing delimiter",
			doc:  "---\ntitle: Hi\n---\nbody\n",
			want: "---\ntitle: Hi\nbsky_post: \"https://x/1\"\n---\nbody\n",
		},
		{
			name: "replace existing line",
			doc:  "---\nbsky_post: old\ntitle: Hi\n---\nbody\n",
			want: "---\nbsky_post: \"https://x/1\"\ntitle: Hi\n---\nbody\n",
		},
		{
			name: "replace nested value with continuation lines",
			doc:  "---\nbsky_post:\n  url: old\n  at: now\ntitle: Hi\n---\nbody",
			want: "---\nbsky_post: \"https://x/1\"\ntitle: Hi\n---\nbody",
		},
		{
			name: "synthesize block",
			doc:  "body only\n",
			want: "---\nbsky_post: \"https://x/1\"\n---\nbody only\n",
		},
		{
			name: "synthesize block without trailing newline",
			doc:  "body only",
			want: "---\nbsky_post: \"https://x/1\"\n---\nbody only",
		},
		{
			name: "crlf document",
			doc:  "---\r\ntitle: Hi\r\n---\r\nbody\r\n",
			want: "---\r\ntitle: Hi\r\nbsky_post: \"https://x/1\"\r\n---\r\nbody\r\n",
		},
		{
			name: "prefix key is not a match",
			doc:  "---\nbsky_post_old: x\n---\n",
			want: "---\nbsky_post_old: x\nbsky_post: \"https://x/1\"\n---\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpsertField(tt.doc, "bsky_post", "https://x/1")
			if got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestUpsertField_Idempotent(t *testing.T) {
	docs := []string{
		"---\ntitle: Hi\n---\nbody\n",
		"no block",
		"---\nbsky_post: old\n---\n",
		"",
	}
	for _, doc := range docs {
		once := UpsertField(doc, "bsky_post", "v")
		twice := UpsertField(once, "bsky_post", "v")
		if once != twice {
			t.Errorf("not idempotent for %q:\nonce  %q\ntwice %q", doc, once, twice)
		}
		m, _, err := Split(twice)
		if err != nil {
			t.Fatalf("split after upsert: %v", err)
		}
		if v, _ := m.Get("bsky_post"); v != "v" {
			t.Errorf("bsky_post = %#v", v)
		}
	}
}

func TestUpsertField_QuotesValue(t *testing.T) {
	got := UpsertField("---\n---\n", "k", `say "hi": now`)
	m, _, err := Split(got)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if v, _ := m.Get("k"); v != `say "hi": now` {
		t.Errorf("k = %#v", v)
	}
}

func TestStripField(t *testing.T) {
	doc := "---\ntitle: Hi\n---\nbody\n"
	upserted := UpsertField(doc, "bsky_post", "https://x/1")
	if got := StripField(upserted, "bsky_post"); got != doc {
		t.Errorf("strip(upsert(doc)) = %q, want %q", got, doc)
	}

	if got := StripField("plain body\n", "bsky_post"); got != "plain body\n" {
		t.Errorf("no-block strip changed document: %q", got)
	}

	multi := "---\nk: 1\nother: x\nk: 2\n---\nbody"
	if got := StripField(multi, "k"); got != "---\nother: x\n---\nbody" {
		t.Errorf("strip all = %q", got)
	}
}

func TestCompose_RoundTrip(t *testing.T) {
	docs := []string{
		"---\ntitle: Hello\nsocial:\n  text: Short note\n  tags:\n    - a\n    - b\ncount: 3\n---\nBody\n",
		"---\nslug: /weekly note/\ndraft: true\n---\n\nText",
		"---\ntitle: Launch\ndate: 2026-02-01\nupdated: 2026-02-03T10:00:00Z\n---\nbody\n",
	}
	for _, doc := range docs {
		m, body, err := Split(doc)
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		composed, err := Compose(m, body)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		m2, body2, err := Split(composed)
		if err != nil {
			t.Fatalf("split composed: %v", err)
		}
		if body2 != body {
			t.Errorf("body = %q, want %q", body2, body)
		}
		if !reflect.DeepEqual(m2, m) {
			t.Errorf("map mismatch after round trip:\n%s", composed)
		}
		if v, ok := m2.Get("date"); ok && v != "2026-02-01" {
			t.Errorf("date = %#v after round trip", v)
		}
	}
}
