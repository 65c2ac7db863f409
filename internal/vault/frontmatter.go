package vault

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// headerOrder fixes the position of the well-known keys when rendering.
var headerOrder = []string{"id", "from", "to", "date", "priority", "status"}

// Header is a message's frontmatter. Keys other than from are carried opaquely.
type Header map[string]string

// ExtractHeaderField returns the value of key from the leading --- block.
// It reports false when the document has no leading block or the block has
// no such key.
func ExtractHeaderField(text, key string) (string, bool) {
	block, _, ok := splitFrontMatter(text)
	if !ok {
		return "", false
	}
	needle := strings.ToLower(strings.TrimSpace(key)) + ":"
	for _, raw := range strings.Split(block, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(strings.ToLower(line), needle) {
			return strings.TrimSpace(line[len(needle):]), true
		}
	}
	return "", false
}

// ParseHeader decodes the full frontmatter block and returns it with the body
// that follows. Documents without frontmatter return an empty header and the
// whole text as body.
func ParseHeader(text string) (Header, string) {
	block, body, ok := splitFrontMatter(text)
	if !ok {
		return Header{}, text
	}
	if header, err := decodeYAML(block); err == nil {
		return header, body
	}
	return scanLines(block), body
}

// Render writes header and body in the wire format: a --- fenced block of
// key: value lines, a blank line, then the body.
func (h Header) Render(body string) string {
	var b strings.Builder
	b.WriteString(fence + "\n")
	for _, key := range h.keys() {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(h[key])
		b.WriteString("\n")
	}
	b.WriteString(fence + "\n\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	return b.String()
}

func (h Header) keys() []string {
	seen := make(map[string]bool, len(h))
	keys := make([]string, 0, len(h))
	for _, key := range headerOrder {
		if _, ok := h[key]; ok {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	var rest []string
	for key := range h {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// splitFrontMatter returns the lines between the opening fence and the next
// fence line, plus everything after the closing fence.
func splitFrontMatter(text string) (string, string, bool) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != fence {
		return "", "", false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == fence {
			block := strings.Join(lines[1:i], "\n")
			body := strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
			return block, body, true
		}
	}
	return "", "", false
}

func decodeYAML(block string) (Header, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, err
	}
	header := Header{}
	if len(doc.Content) == 0 {
		return header, nil
	}
	mapping := doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, errNotMapping
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			continue
		}
		header[strings.ToLower(key.Value)] = value.Value
	}
	return header, nil
}

func scanLines(block string) Header {
	header := Header{}
	for _, raw := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(raw, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		header[key] = strings.TrimSpace(value)
	}
	return header
}
