// Package export renders a document's content tree into downloadable
// formats.
package export

import (
	"fmt"
	"html"
	"strings"

	"lexora/api/internal/store"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

type Result struct {
	Filename string
	MimeType string
	Data     []byte
}

// Render converts a document into the requested format. The title becomes
// the top-level heading and the filename.
func Render(doc store.Document, format Format) (Result, error) {
	nodes, err := parseTree(doc.Content)
	if err != nil {
		return Result{}, err
	}

	base := slugify(doc.Title)

	switch format {
	case FormatText:
		body := doc.Title + "\n\n" + treeToText(nodes)
		return Result{Filename: base + ".txt", MimeType: "text/plain; charset=utf-8", Data: []byte(body)}, nil
	case FormatMarkdown:
		body := "# " + doc.Title + "\n\n" + treeToMarkdown(nodes)
		return Result{Filename: base + ".md", MimeType: "text/markdown; charset=utf-8", Data: []byte(body)}, nil
	case FormatHTML:
		var out strings.Builder
		out.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>")
		out.WriteString(html.EscapeString(doc.Title))
		out.WriteString("</title></head>\n<body>\n<h1>")
		out.WriteString(html.EscapeString(doc.Title))
		out.WriteString("</h1>\n")
		out.WriteString(treeToHTML(nodes))
		out.WriteString("</body>\n</html>\n")
		return Result{Filename: base + ".html", MimeType: "text/html; charset=utf-8", Data: []byte(out.String())}, nil
	default:
		return Result{}, fmt.Errorf("unsupported export format %q", format)
	}
}

func slugify(title string) string {
	var out strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				out.WriteRune('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(out.String(), "-")
	if slug == "" {
		return "document"
	}
	return slug
}
