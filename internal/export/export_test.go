package export

import (
	"encoding/json"
	"strings"
	"testing"

	"lexora/api/internal/store"
)

const sampleContent = `[
	{"type":"h2","children":[{"text":"Engagement Terms"}]},
	{"type":"p","children":[
		{"text":"The firm agrees to "},
		{"text":"retain counsel","bold":true},
		{"text":" under the "},
		{"type":"a","url":"https://example.com/terms","children":[{"text":"standard terms"}]},
		{"text":"."}
	]},
	{"type":"ul","children":[
		{"type":"li","children":[{"text":"Scope of work"}]},
		{"type":"li","children":[{"text":"Billing ","italic":true},{"text":"rates"}]}
	]},
	{"type":"code_block","children":[{"text":"clause 4.2(b)"}]},
	{"type":"hr","children":[{"text":""}]}
]`

func sampleDocument() store.Document {
	return store.Document{
		ID:      7,
		Title:   "Retainer Agreement: Draft 3",
		Content: json.RawMessage(sampleContent),
		Version: 12,
	}
}

func TestRenderHTML(t *testing.T) {
	result, err := Render(sampleDocument(), FormatHTML)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if result.Filename != "retainer-agreement-draft-3.html" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	out := string(result.Data)

	for _, want := range []string{
		"<h1>Retainer Agreement: Draft 3</h1>",
		"<h2>Engagement Terms</h2>",
		"<strong>retain counsel</strong>",
		`<a href="https://example.com/terms">standard terms</a>`,
		"<li>Scope of work</li>",
		"<em>Billing </em>",
		"<pre><code>clause 4.2(b)</code></pre>",
		"<hr>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML output missing %q\n%s", want, out)
		}
	}
}

func TestRenderHTMLEscapesText(t *testing.T) {
	doc := store.Document{
		Title:   "Notes <script>",
		Content: json.RawMessage(`[{"type":"p","children":[{"text":"a < b & c"}]}]`),
	}
	result, err := Render(doc, FormatHTML)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := string(result.Data)
	if strings.Contains(out, "<script>") {
		t.Error("title was not escaped")
	}
	if !strings.Contains(out, "a &lt; b &amp; c") {
		t.Errorf("body text was not escaped:\n%s", out)
	}
}

func TestRenderMarkdown(t *testing.T) {
	result, err := Render(sampleDocument(), FormatMarkdown)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := string(result.Data)

	for _, want := range []string{
		"# Retainer Agreement: Draft 3",
		"## Engagement Terms",
		"**retain counsel**",
		"[standard terms](https://example.com/terms)",
		"- Scope of work",
		"```\nclause 4.2(b)\n```",
		"---",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Markdown output missing %q\n%s", want, out)
		}
	}
}

func TestRenderText(t *testing.T) {
	result, err := Render(sampleDocument(), FormatText)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := string(result.Data)

	if !strings.Contains(out, "The firm agrees to retain counsel under the standard terms.") {
		t.Errorf("text output lost inline content:\n%s", out)
	}
	if strings.Contains(out, "**") || strings.Contains(out, "<") {
		t.Errorf("text output leaked formatting:\n%s", out)
	}
}

func TestRenderEmptyContent(t *testing.T) {
	doc := store.Document{Title: "Empty"}
	result, err := Render(doc, FormatText)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasPrefix(string(result.Data), "Empty") {
		t.Errorf("expected title in output, got %q", result.Data)
	}
}

func TestRenderWrappedRoot(t *testing.T) {
	doc := store.Document{
		Title:   "Wrapped",
		Content: json.RawMessage(`{"children":[{"type":"p","children":[{"text":"hello"}]}]}`),
	}
	result, err := Render(doc, FormatText)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(string(result.Data), "hello") {
		t.Errorf("wrapped root not handled: %q", result.Data)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := Render(sampleDocument(), Format("pdf")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Retainer Agreement: Draft 3": "retainer-agreement-draft-3",
		"   ":                         "document",
		"Ünïcode!!":                   "n-code",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
