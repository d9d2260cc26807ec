package markdown

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/frontmatter"

	"github.com/templui/tracker/internal/model"
)

var ErrNoTitle = errors.New("markdown has no title: add a title to the front matter or a top-level heading")

// Parser renders record descriptions and imports records from markdown
// files with front matter. Raw HTML in the source is never passed through.
type Parser struct {
	md goldmark.Markdown
}

func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			extension.Typographer,
			&frontmatter.Extender{},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			goldmarkhtml.WithHardWraps(),
			goldmarkhtml.WithXHTML(),
		),
	)

	return &Parser{
		md: md,
	}
}

// Render converts a record description to HTML.
func (p *Parser) Render(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type frontMatter struct {
	Title          string   `yaml:"title" toml:"title"`
	Kind           string   `yaml:"kind" toml:"kind"`
	Category       string   `yaml:"category" toml:"category"`
	Tags           any      `yaml:"tags" toml:"tags"`
	Priority       string   `yaml:"priority" toml:"priority"`
	Status         string   `yaml:"status" toml:"status"`
	Date           string   `yaml:"date" toml:"date"`
	Due            string   `yaml:"due" toml:"due"`
	Duration       *float64 `yaml:"duration" toml:"duration"`
	EstimatedHours float64  `yaml:"estimated_hours" toml:"estimated_hours"`
}

// Import builds an unsaved record from a markdown document. Front matter
// supplies the fields; the body becomes the description. Without a title
// in the front matter the first level-one heading is used and removed
// from the body.
func (p *Parser) Import(source []byte) (*model.Record, error) {
	ctx := parser.NewContext()
	doc := p.md.Parser().Parse(text.NewReader(source), parser.WithContext(ctx))

	var fm frontMatter
	if data := frontmatter.Get(ctx); data != nil {
		if err := data.Decode(&fm); err != nil {
			return nil, fmt.Errorf("invalid front matter: %w", err)
		}
	}

	body := stripFrontMatter(source)
	title := strings.TrimSpace(fm.Title)
	if title == "" {
		heading, line := firstHeading(doc, source)
		if heading == "" {
			return nil, ErrNoTitle
		}
		title = heading
		body = removeLine(body, line)
	}

	r := &model.Record{
		Kind:           strings.ToLower(fm.Kind),
		Title:          title,
		Description:    strings.TrimSpace(body),
		Category:       fm.Category,
		Tags:           tags(fm.Tags),
		Priority:       strings.ToLower(fm.Priority),
		Status:         strings.ToLower(fm.Status),
		Date:           fm.Date,
		Duration:       fm.Duration,
		EstimatedHours: fm.EstimatedHours,
	}
	if fm.Due != "" {
		due, err := parseDue(fm.Due)
		if err != nil {
			return nil, err
		}
		r.DueDate = &due
		if r.Kind == "" {
			r.Kind = model.KindTask
		}
	}
	if r.Kind == model.KindTask {
		if r.Priority == "" {
			r.Priority = model.PriorityMedium
		}
		if r.Status == "" {
			r.Status = model.StatusTodo
		}
	}
	return r, nil
}

func firstHeading(doc ast.Node, source []byte) (string, string) {
	var title, line string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !entering || !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		seg := lines.At(0)
		title = strings.TrimSpace(string(seg.Value(source)))
		line = lineAround(source, seg.Start)
		return ast.WalkStop, nil
	})
	return title, line
}

func lineAround(source []byte, pos int) string {
	start := bytes.LastIndexByte(source[:pos], '\n') + 1
	end := bytes.IndexByte(source[pos:], '\n')
	if end < 0 {
		return string(source[start:])
	}
	return string(source[start : pos+end])
}

func removeLine(body, line string) string {
	if line == "" {
		return body
	}
	return strings.Replace(body, line, "", 1)
}

func stripFrontMatter(source []byte) string {
	s := string(source)
	for _, delim := range []string{"---", "+++"} {
		if !strings.HasPrefix(s, delim+"\n") {
			continue
		}
		rest := s[len(delim)+1:]
		if i := strings.Index(rest, "\n"+delim); i >= 0 {
			after := rest[i+len(delim)+1:]
			if nl := strings.IndexByte(after, '\n'); nl >= 0 {
				return after[nl+1:]
			}
			return ""
		}
	}
	return s
}

func tags(v any) []string {
	switch t := v.(type) {
	case string:
		return model.SplitTags(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return model.NormalizeTags(out)
	case []string:
		return model.NormalizeTags(t)
	}
	return nil
}

func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q", s)
	}
	return t, nil
}
