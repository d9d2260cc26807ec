// Package filter turns a record set into the ordered view a client shows.
// Everything here is pure: no I/O, inputs are never modified.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/templui/tracker/internal/model"
	"golang.org/x/text/cases"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const (
	FieldTitle     = "title"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDate      = "date"
	FieldPriority  = "priority"
	FieldDueDate   = "dueDate"
	FieldStatus    = "status"
	FieldCategory  = "category"
)

// maxDueDate stands in for a missing due date.
var maxDueDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Criteria narrows the record set. Empty fields match everything.
type Criteria struct {
	Search   string
	Category string
	Date     string
	Status   string
	Priority string
	Kind     string
}

type Sort struct {
	Field     string
	Direction Direction
}

// DefaultSort shows the newest records first.
var DefaultSort = Sort{Field: FieldCreatedAt, Direction: Desc}

// ParseSort reads "field-direction" values such as "dueDate-asc".
func ParseSort(v string) Sort {
	i := strings.LastIndex(v, "-")
	if i <= 0 {
		return DefaultSort
	}
	s := Sort{Field: v[:i], Direction: Direction(v[i+1:])}
	if !validField(s.Field) || (s.Direction != Asc && s.Direction != Desc) {
		return DefaultSort
	}
	return s
}

// Apply filters records by c and orders the result by s. Records with
// equal keys keep their input order.
func Apply(records []*model.Record, c Criteria, s Sort) []*model.Record {
	m := newMatcher(c)

	out := make([]*model.Record, 0, len(records))
	for _, r := range records {
		if m.match(r) {
			out = append(out, r)
		}
	}

	if s.Field == "" {
		return out
	}
	cmp := comparator(s.Field)
	sort.SliceStable(out, func(i, j int) bool {
		if s.Direction == Desc {
			return cmp(out[j], out[i]) < 0
		}
		return cmp(out[i], out[j]) < 0
	})
	return out
}

type matcher struct {
	criteria Criteria
	needle   string
	fold     func(string) string
}

func newMatcher(c Criteria) *matcher {
	caser := cases.Fold()
	return &matcher{
		criteria: c,
		needle:   caser.String(strings.TrimSpace(c.Search)),
		fold:     caser.String,
	}
}

func (m *matcher) match(r *model.Record) bool {
	c := m.criteria
	if c.Category != "" && r.Category != c.Category {
		return false
	}
	if c.Date != "" && r.Date != c.Date {
		return false
	}
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	if c.Priority != "" && r.Priority != c.Priority {
		return false
	}
	if c.Kind != "" && r.Kind != c.Kind {
		return false
	}
	return m.matchSearch(r)
}

func (m *matcher) matchSearch(r *model.Record) bool {
	if m.needle == "" {
		return true
	}
	if strings.Contains(m.fold(r.Title), m.needle) {
		return true
	}
	if strings.Contains(m.fold(r.Description), m.needle) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(m.fold(tag), m.needle) {
			return true
		}
	}
	return false
}

func validField(field string) bool {
	switch field {
	case FieldTitle, FieldCreatedAt, FieldUpdatedAt, FieldDate, FieldPriority, FieldDueDate, FieldStatus, FieldCategory:
		return true
	}
	return false
}

func comparator(field string) func(a, b *model.Record) int {
	switch field {
	case FieldTitle:
		return func(a, b *model.Record) int { return strings.Compare(a.Title, b.Title) }
	case FieldCategory:
		return func(a, b *model.Record) int { return strings.Compare(a.Category, b.Category) }
	case FieldStatus:
		return func(a, b *model.Record) int { return strings.Compare(a.Status, b.Status) }
	case FieldDate:
		return func(a, b *model.Record) int { return strings.Compare(a.Date, b.Date) }
	case FieldCreatedAt:
		return func(a, b *model.Record) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case FieldUpdatedAt:
		return func(a, b *model.Record) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case FieldPriority:
		return func(a, b *model.Record) int {
			return model.PriorityRank(a.Priority) - model.PriorityRank(b.Priority)
		}
	case FieldDueDate:
		return func(a, b *model.Record) int { return dueDate(a).Compare(dueDate(b)) }
	}
	return func(a, b *model.Record) int { return 0 }
}

func dueDate(r *model.Record) time.Time {
	if r.DueDate == nil {
		return maxDueDate
	}
	return *r.DueDate
}
