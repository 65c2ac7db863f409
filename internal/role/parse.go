package role

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	markdownOnce   sync.Once
	markdownParser goldmark.Markdown
)

func parser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// section is the raw text and bullet items under one ## heading.
type section struct {
	raw     string
	bullets []string
}

// Parse builds a Role from a markdown definition. Parsing is lenient: a
// missing or malformed section leaves the corresponding field at its default.
func Parse(name string, source []byte) Role {
	doc := parser().Parser().Parse(text.NewReader(source))

	title := ""
	sections := map[string]*section{}
	var (
		current      *section
		contentStart int
	)
	closeSection := func(end int) {
		if current == nil {
			return
		}
		if end < contentStart {
			end = contentStart
		}
		current.raw = strings.TrimSpace(string(source[contentStart:end]))
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			heading := strings.TrimSpace(linesText(n, source))
			if n.Level == 1 && title == "" {
				title = heading
			}
			if n.Level != 2 || n.Lines().Len() == 0 {
				continue
			}
			start := n.Lines().At(0).Start
			closeSection(lineStart(source, start))
			key := strings.ToLower(heading)
			current = &section{}
			sections[key] = current
			contentStart = lineEnd(source, start)
		case *ast.List:
			if current != nil {
				current.bullets = append(current.bullets, listItems(n, source)...)
			}
		}
	}
	closeSection(len(source))

	raw := func(key string) string {
		if s, ok := sections[key]; ok {
			return s.raw
		}
		return ""
	}
	bullets := func(key string) []string {
		if s, ok := sections[key]; ok && len(s.bullets) > 0 {
			return append([]string(nil), s.bullets...)
		}
		return []string{}
	}

	r := Role{
		Name:         name,
		DisplayName:  title,
		Model:        firstLine(raw("model")),
		Mission:      raw("mission"),
		Goals:        bullets("goals"),
		ContextFiles: bullets("context files"),
		Tools:        bullets("tools"),
		Schedule:     raw("schedule"),
		Inbox:        firstLine(raw("inbox")),
		Preferences:  raw("user preferences"),
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
	personaKey := "slack"
	if _, ok := sections[personaKey]; !ok {
		personaKey = "persona"
	}
	r.Persona = parsePersona(bullets(personaKey), r)
	return r
}

func parsePersona(items []string, r Role) Persona {
	p := Persona{}
	for _, item := range items {
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "`\"")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "username", "name":
			p.Username = value
		case "emoji", "icon", "icon_emoji":
			p.Icon = value
		case "mention":
			p.Mention = value
		}
	}
	if p.Username == "" {
		p.Username = r.Title()
	}
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.Icon != "" && !strings.HasPrefix(p.Icon, ":") {
		p.Icon = ":" + strings.Trim(p.Icon, ":") + ":"
	}
	if p.Mention == "" {
		p.Mention = "@" + r.Name
	}
	if !strings.HasPrefix(p.Mention, "@") {
		p.Mention = "@" + p.Mention
	}
	return p
}

func listItems(list *ast.List, source []byte) []string {
	var items []string
	_ = ast.Walk(list, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		item, ok := n.(*ast.ListItem)
		if !ok {
			return ast.WalkContinue, nil
		}
		if first := item.FirstChild(); first != nil {
			if value := strings.TrimSpace(linesText(first, source)); value != "" {
				items = append(items, value)
			}
		}
		return ast.WalkContinue, nil
	})
	return items
}

func linesText(n ast.Node, source []byte) string {
	lines := n.Lines()
	if lines == nil {
		return ""
	}
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimSpace(string(seg.Value(source))))
	}
	return strings.Join(parts, " ")
}

func lineStart(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	return bytes.LastIndexByte(source[:offset], '\n') + 1
}

func lineEnd(source []byte, offset int) int {
	if offset >= len(source) {
		return len(source)
	}
	idx := bytes.IndexByte(source[offset:], '\n')
	if idx < 0 {
		return len(source)
	}
	return offset + idx + 1
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(value), "\n")
	return strings.TrimSpace(line)
}
