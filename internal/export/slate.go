package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// The editor stores content as a Slate-style tree: the root is an array of
// block nodes, elements carry a "type" and "children", and leaves carry
// "text" plus boolean marks such as "bold".

func parseTree(content json.RawMessage) ([]map[string]any, error) {
	if len(content) == 0 {
		return nil, nil
	}
	var nodes []map[string]any
	if err := json.Unmarshal(content, &nodes); err == nil {
		return nodes, nil
	}
	// Some older documents wrap the array in {"children": [...]}.
	var wrapped map[string]any
	if err := json.Unmarshal(content, &wrapped); err != nil {
		return nil, fmt.Errorf("parse content tree: %w", err)
	}
	return childNodes(wrapped["children"]), nil
}

func childNodes(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	nodes := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if node, ok := item.(map[string]any); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// treeToHTML renders the block nodes to HTML.
func treeToHTML(nodes []map[string]any) string {
	var out strings.Builder
	for _, node := range nodes {
		out.WriteString(renderHTMLNode(node))
	}
	return out.String()
}

func renderHTMLNode(node map[string]any) string {
	if text, ok := node["text"].(string); ok {
		return renderHTMLLeaf(text, node)
	}

	nodeType, _ := node["type"].(string)
	children := treeToHTML(childNodes(node["children"]))

	switch nodeType {
	case "p", "paragraph", "":
		return fmt.Sprintf("<p>%s</p>\n", children)
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return fmt.Sprintf("<%s>%s</%s>\n", nodeType, children, nodeType)
	case "blockquote":
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", children)
	case "ul":
		return fmt.Sprintf("<ul>\n%s</ul>\n", children)
	case "ol":
		return fmt.Sprintf("<ol>\n%s</ol>\n", children)
	case "li":
		return fmt.Sprintf("<li>%s</li>\n", children)
	case "code_block":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", children)
	case "a":
		href, _ := node["url"].(string)
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), children)
	case "hr":
		return "<hr>\n"
	default:
		return children
	}
}

func renderHTMLLeaf(text string, leaf map[string]any) string {
	out := html.EscapeString(text)
	if boolMark(leaf, "code") {
		out = fmt.Sprintf("<code>%s</code>", out)
	}
	if boolMark(leaf, "strikethrough") {
		out = fmt.Sprintf("<s>%s</s>", out)
	}
	if boolMark(leaf, "underline") {
		out = fmt.Sprintf("<u>%s</u>", out)
	}
	if boolMark(leaf, "italic") {
		out = fmt.Sprintf("<em>%s</em>", out)
	}
	if boolMark(leaf, "bold") {
		out = fmt.Sprintf("<strong>%s</strong>", out)
	}
	return out
}

// treeToMarkdown renders the block nodes to Markdown.
func treeToMarkdown(nodes []map[string]any) string {
	var out strings.Builder
	for _, node := range nodes {
		out.WriteString(renderMarkdownNode(node, ""))
	}
	return out.String()
}

func renderMarkdownNode(node map[string]any, listMarker string) string {
	if text, ok := node["text"].(string); ok {
		return renderMarkdownLeaf(text, node)
	}

	nodeType, _ := node["type"].(string)
	children := childNodes(node["children"])

	switch nodeType {
	case "p", "paragraph", "":
		return inlineMarkdown(children) + "\n\n"
	case "h1":
		return "# " + inlineMarkdown(children) + "\n\n"
	case "h2":
		return "## " + inlineMarkdown(children) + "\n\n"
	case "h3":
		return "### " + inlineMarkdown(children) + "\n\n"
	case "h4", "h5", "h6":
		return "#### " + inlineMarkdown(children) + "\n\n"
	case "blockquote":
		return "> " + strings.TrimSpace(inlineMarkdown(children)) + "\n\n"
	case "ul":
		var out strings.Builder
		for _, child := range children {
			out.WriteString(renderMarkdownNode(child, "- "))
		}
		out.WriteString("\n")
		return out.String()
	case "ol":
		var out strings.Builder
		for i, child := range children {
			out.WriteString(renderMarkdownNode(child, fmt.Sprintf("%d. ", i+1)))
		}
		out.WriteString("\n")
		return out.String()
	case "li":
		return listMarker + strings.TrimSpace(inlineMarkdown(children)) + "\n"
	case "code_block":
		return "```\n" + plainText(children) + "\n```\n\n"
	case "a":
		href, _ := node["url"].(string)
		return fmt.Sprintf("[%s](%s)", inlineMarkdown(children), href)
	case "hr":
		return "---\n\n"
	default:
		return inlineMarkdown(children)
	}
}

func inlineMarkdown(nodes []map[string]any) string {
	var out strings.Builder
	for _, node := range nodes {
		out.WriteString(renderMarkdownNode(node, ""))
	}
	return out.String()
}

func renderMarkdownLeaf(text string, leaf map[string]any) string {
	out := text
	if boolMark(leaf, "code") {
		out = "`" + out + "`"
	}
	if boolMark(leaf, "italic") {
		out = "*" + out + "*"
	}
	if boolMark(leaf, "bold") {
		out = "**" + out + "**"
	}
	if boolMark(leaf, "strikethrough") {
		out = "~~" + out + "~~"
	}
	return out
}

// treeToText renders the block nodes to plain text, one block per line.
func treeToText(nodes []map[string]any) string {
	var out strings.Builder
	for _, node := range nodes {
		if text, ok := node["text"].(string); ok {
			out.WriteString(text)
			continue
		}
		line := plainText(childNodes(node["children"]))
		if line != "" {
			out.WriteString(line)
		}
		out.WriteString("\n")
	}
	return out.String()
}

func plainText(nodes []map[string]any) string {
	var out strings.Builder
	for _, node := range nodes {
		if text, ok := node["text"].(string); ok {
			out.WriteString(text)
			continue
		}
		out.WriteString(plainText(childNodes(node["children"])))
	}
	return out.String()
}

func boolMark(leaf map[string]any, name string) bool {
	v, ok := leaf[name].(bool)
	return ok && v
}
