package markdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templui/tracker/internal/model"
)

func TestRender(t *testing.T) {
	p := NewParser()

	html, err := p.Render([]byte("**bold** and a [link](https://example.com)\n\n- [x] done"))
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, `<a href="https://example.com">link</a>`)
	assert.Contains(t, out, `type="checkbox"`)
}

func TestRender_DropsRawHTML(t *testing.T) {
	p := NewParser()

	html, err := p.Render([]byte("hello <script>alert(1)</script>"))
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<script>")
}

func TestImport_FrontMatter(t *testing.T) {
	p := NewParser()
	src := `---
title: Ship the importer
category: dev-backend
tags: [go, import, go]
priority: High
due: 2024-06-10
---
Parse files and **save** them.
`

	r, err := p.Import([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, "Ship the importer", r.Title)
	assert.Equal(t, "dev-backend", r.Category)
	assert.Equal(t, []string{"go", "import"}, r.Tags)
	assert.Equal(t, model.PriorityHigh, r.Priority)
	assert.Equal(t, model.KindTask, r.Kind)
	assert.Equal(t, model.StatusTodo, r.Status)
	require.NotNil(t, r.DueDate)
	assert.True(t, r.DueDate.Equal(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Parse files and **save** them.", r.Description)
}

func TestImport_HeadingTitle(t *testing.T) {
	p := NewParser()
	src := "# Morning notes\n\nRead two chapters.\n"

	r, err := p.Import([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, "Morning notes", r.Title)
	assert.Equal(t, "Read two chapters.", r.Description)
	assert.Empty(t, r.Kind)
	assert.Nil(t, r.DueDate)
}

func TestImport_CommaTags(t *testing.T) {
	p := NewParser()
	src := "---\ntitle: Notes\ntags: a, b ,c\n---\nbody\n"

	r, err := p.Import([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, r.Tags)
}

func TestImport_Errors(t *testing.T) {
	p := NewParser()

	_, err := p.Import([]byte("just text"))
	assert.ErrorIs(t, err, ErrNoTitle)

	_, err = p.Import([]byte("---\ntitle: x\ndue: next week\n---\n"))
	assert.Error(t, err)
}
