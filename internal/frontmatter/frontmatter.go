// Package frontmatter splits markdown documents into a YAML metadata block and
// a body, and rewrites single top-level fields of that block in place.
package frontmatter

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Delimiter opens and closes a metadata block.
const Delimiter = "---"

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// ParseError reports a malformed metadata block. Line is 1-based and counts
// from the top of the document, delimiter included.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("frontmatter: line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("frontmatter: line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// Split separates the leading metadata block from the body. A document that
// does not start with a delimiter line has an empty map and is all body.
func Split(doc string) (*Map, string, error) {
	lines := strings.SplitAfter(doc, "\n")
	if !isDelimiter(lines[0]) {
		return NewMap(), doc, nil
	}
	end := closingIndex(lines)
	if end < 0 {
		return nil, "", &ParseError{Line: 1, Text: Delimiter, Msg: "unterminated metadata block"}
	}

	blockLines := lines[1:end]
	m, err := parseBlock(strings.Join(blockLines, ""), blockLines)
	if err != nil {
		return nil, "", err
	}
	return m, strings.Join(lines[end+1:], ""), nil
}

// ReadField walks m along a dot-separated path. It reports false as soon as a
// segment is missing or a non-map value would have to be indexed further.
func ReadField(m *Map, path string) (any, bool) {
	cur := m
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		v, ok := cur.Get(seg)
		if !ok {
			return nil, false
		}
		if i == len(segs)-1 {
			return v, true
		}
		next, ok := v.(*Map)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// UpsertField sets a top-level key to a double-quoted string value. The first
// existing "key:" line (with any indented continuation lines) is replaced;
// otherwise the line is added before the closing delimiter. Without a block a
// new one holding only this key is put in front of the content.
func UpsertField(doc, key, value string) string {
	lines, trailing := splitLines(doc)
	cr := carriageReturn(lines)
	entry := key + ": " + strconv.Quote(value) + cr

	if len(lines) > 0 && isDelimiter(lines[0]) {
		if end := closingIndex(lines); end > 0 {
			if start, stop, ok := findField(lines, 1, end, key); ok {
				lines = splice(lines, start, stop, entry)
			} else {
				lines = splice(lines, end, end, entry)
			}
			return joinLines(lines, trailing)
		}
	}

	block := []string{Delimiter + cr, entry, Delimiter + cr}
	return joinLines(append(block, lines...), trailing)
}

// StripField removes every top-level "key:" line from the metadata block. It is
// a no-op for documents without a block.
func StripField(doc, key string) string {
	lines, trailing := splitLines(doc)
	if len(lines) == 0 || !isDelimiter(lines[0]) {
		return doc
	}
	end := closingIndex(lines)
	if end < 0 {
		return doc
	}
	changed := false
	for {
		start, stop, ok := findField(lines, 1, end, key)
		if !ok {
			break
		}
		lines = splice(lines, start, stop)
		end -= stop - start
		changed = true
	}
	if !changed {
		return doc
	}
	return joinLines(lines, trailing)
}

// Compose renders m as a metadata block followed by body.
func Compose(m *Map, body string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(Delimiter + "\n")
	if m.Len() > 0 {
		node, err := toNode(m)
		if err != nil {
			return "", err
		}
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return "", fmt.Errorf("frontmatter: encode: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("frontmatter: encode: %w", err)
		}
	}
	buf.WriteString(Delimiter + "\n")
	buf.WriteString(body)
	return buf.String(), nil
}

func parseBlock(block string, lines []string) (*Map, error) {
	if strings.TrimSpace(block) == "" {
		return NewMap(), nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(block), &root); err != nil {
		return nil, yamlError(err, lines)
	}
	if len(root.Content) == 0 {
		return NewMap(), nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: top.Line + 1, Text: lineText(lines, top.Line), Msg: "expected key: value"}
	}
	v, err := fromNode(top, lines)
	if err != nil {
		return nil, err
	}
	return v.(*Map), nil
}

func fromNode(n *yaml.Node, lines []string) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, &ParseError{Line: k.Line + 1, Text: lineText(lines, k.Line), Msg: "keys must be plain scalars"}
			}
			if m.Has(k.Value) {
				return nil, &ParseError{Line: k.Line + 1, Text: lineText(lines, k.Line), Msg: "duplicate key"}
			}
			val, err := fromNode(v, lines)
			if err != nil {
				return nil, err
			}
			m.Set(k.Value, val)
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := fromNode(c, lines)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.AliasNode:
		return fromNode(n.Alias, lines)
	default:
		// Dates stay as written.
		if n.ShortTag() == "!!timestamp" {
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, &ParseError{Line: n.Line + 1, Text: lineText(lines, n.Line), Msg: err.Error()}
		}
		return v, nil
	}
}

func toNode(v any) (*yaml.Node, error) {
	switch t := v.(type) {
	case *Map:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range t.keys {
			val, err := toNode(t.values[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, val)
		}
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			val, err := toNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, val)
		}
		return n, nil
	default:
		n := &yaml.Node{}
		if err := n.Encode(t); err != nil {
			return nil, fmt.Errorf("frontmatter: encode %T: %w", t, err)
		}
		return n, nil
	}
}

// yamlError turns a yaml.v3 failure into a ParseError. An unindented line
// without a separator is the usual culprit and is named directly.
func yamlError(err error, lines []string) *ParseError {
	for i, l := range lines {
		t := strings.TrimRight(l, "\r\n")
		if t == "" || t[0] == ' ' || t[0] == '\t' || t[0] == '#' || t[0] == '-' {
			continue
		}
		if !strings.Contains(t, ":") {
			return &ParseError{Line: i + 2, Text: t, Msg: "missing ':' separator"}
		}
	}
	pe := &ParseError{Line: 1, Msg: strings.TrimPrefix(err.Error(), "yaml: ")}
	if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		pe.Line = n + 1
		pe.Text = lineText(lines, n)
	}
	return pe
}

// lineText returns the 1-based block line n without its line ending.
func lineText(lines []string, n int) string {
	if n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[n-1], "\r\n")
}

func isDelimiter(line string) bool {
	return strings.TrimRight(line, " \t\r\n") == Delimiter
}

func closingIndex(lines []string) int {
	for i := 1; i < len(lines); i++ {
		if isDelimiter(lines[i]) {
			return i
		}
	}
	return -1
}

// findField locates the first top-level "key:" line in lines[from:to] and the
// end of its continuation lines.
func findField(lines []string, from, to int, key string) (int, int, bool) {
	for i := from; i < to; i++ {
		if !isFieldLine(lines[i], key) {
			continue
		}
		j := i + 1
		for j < to && isContinuation(lines[j]) {
			j++
		}
		return i, j, true
	}
	return 0, 0, false
}

func isFieldLine(line, key string) bool {
	if !strings.HasPrefix(line, key) {
		return false
	}
	rest := strings.TrimLeft(line[len(key):], " \t")
	return strings.HasPrefix(rest, ":")
}

func isContinuation(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t' || line[0] == '-')
}

func splitLines(doc string) ([]string, bool) {
	if doc == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(doc, "\n")
	return strings.Split(strings.TrimSuffix(doc, "\n"), "\n"), trailing
}

func joinLines(lines []string, trailing bool) string {
	out := strings.Join(lines, "\n")
	if trailing {
		out += "\n"
	}
	return out
}

func carriageReturn(lines []string) string {
	if len(lines) > 0 && strings.HasSuffix(lines[0], "\r") {
		return "\r"
	}
	return ""
}

func splice(lines []string, i, j int, repl ...string) []string {
	out := make([]string, 0, len(lines)-(j-i)+len(repl))
	out = append(out, lines[:i]...)
	out = append(out, repl...)
	return append(out, lines[j:]...)
}
