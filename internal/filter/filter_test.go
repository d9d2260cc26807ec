package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/templui/tracker/internal/model"
)

func titles(records []*model.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Title)
	}
	return out
}

func TestApplySearchAndSort(t *testing.T) {
	records := []*model.Record{
		{Title: "Alpha", Category: "x", Priority: model.PriorityLow},
		{Title: "Beta", Category: "y", Priority: model.PriorityHigh},
	}

	got := Apply(records, Criteria{Search: "alp"}, Sort{Field: FieldTitle, Direction: Asc})
	assert.Equal(t, []string{"Alpha"}, titles(got))
}

func TestApplySearchFields(t *testing.T) {
	records := []*model.Record{
		{Title: "Write report", Description: "quarterly numbers"},
		{Title: "Standup", Description: "Daily SYNC with team"},
		{Title: "Refactor", Tags: []string{"Backend", "tech-debt"}},
		{Title: "Lunch"},
	}

	tests := []struct {
		search string
		want   []string
	}{
		{"", []string{"Write report", "Standup", "Refactor", "Lunch"}},
		{"REPORT", []string{"Write report"}},
		{"sync", []string{"Standup"}},
		{"backend", []string{"Refactor"}},
		{"  debt ", []string{"Refactor"}},
		{"nothing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			got := Apply(records, Criteria{Search: tt.search}, Sort{})
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestApplySearchFoldsUnicode(t *testing.T) {
	records := []*model.Record{{Title: "STRASSE Planung"}, {Title: "Other"}}

	got := Apply(records, Criteria{Search: "straße"}, Sort{})
	assert.Equal(t, []string{"STRASSE Planung"}, titles(got))
}

func TestApplyFieldFiltersAreANDed(t *testing.T) {
	records := []*model.Record{
		{Title: "a", Category: "dev", Status: model.StatusTodo, Date: "2024-01-02"},
		{Title: "b", Category: "dev", Status: model.StatusDone, Date: "2024-01-02"},
		{Title: "c", Category: "ops", Status: model.StatusTodo, Date: "2024-01-02"},
		{Title: "d", Category: "dev", Status: model.StatusTodo, Date: "2024-01-03"},
	}

	got := Apply(records, Criteria{Category: "dev", Status: model.StatusTodo, Date: "2024-01-02"}, Sort{})
	assert.Equal(t, []string{"a"}, titles(got))

	got = Apply(records, Criteria{Category: "dev", Search: "d"}, Sort{})
	assert.Equal(t, []string{"d"}, titles(got))
}

func TestApplyPrioritySort(t *testing.T) {
	records := []*model.Record{
		{Title: "m", Priority: model.PriorityMedium},
		{Title: "c", Priority: model.PriorityCritical},
		{Title: "l", Priority: model.PriorityLow},
		{Title: "h", Priority: model.PriorityHigh},
	}

	asc := Apply(records, Criteria{}, Sort{Field: FieldPriority, Direction: Asc})
	assert.Equal(t, []string{"l", "m", "h", "c"}, titles(asc))

	desc := Apply(records, Criteria{}, Sort{Field: FieldPriority, Direction: Desc})
	assert.Equal(t, []string{"c", "h", "m", "l"}, titles(desc))
}

func TestApplyDueDateSortTreatsMissingAsMax(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	records := []*model.Record{
		{Title: "none-1"},
		{Title: "march", DueDate: &d1},
		{Title: "none-2"},
		{Title: "feb", DueDate: &d2},
	}

	asc := Apply(records, Criteria{}, Sort{Field: FieldDueDate, Direction: Asc})
	assert.Equal(t, []string{"feb", "march", "none-1", "none-2"}, titles(asc))
}

func TestApplySortIsStable(t *testing.T) {
	records := []*model.Record{
		{Title: "first", Priority: model.PriorityHigh},
		{Title: "second", Priority: model.PriorityLow},
		{Title: "third", Priority: model.PriorityHigh},
		{Title: "fourth", Priority: model.PriorityHigh},
	}

	asc := Apply(records, Criteria{}, Sort{Field: FieldPriority, Direction: Asc})
	assert.Equal(t, []string{"second", "first", "third", "fourth"}, titles(asc))

	desc := Apply(records, Criteria{}, Sort{Field: FieldPriority, Direction: Desc})
	assert.Equal(t, []string{"first", "third", "fourth", "second"}, titles(desc))
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	records := []*model.Record{{Title: "b"}, {Title: "a"}}
	Apply(records, Criteria{}, Sort{Field: FieldTitle, Direction: Asc})
	assert.Equal(t, []string{"b", "a"}, titles(records))
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, Sort{Field: FieldDueDate, Direction: Asc}, ParseSort("dueDate-asc"))
	assert.Equal(t, Sort{Field: FieldTitle, Direction: Desc}, ParseSort("title-desc"))
	assert.Equal(t, DefaultSort, ParseSort("bogus-asc"))
	assert.Equal(t, DefaultSort, ParseSort("title-sideways"))
	assert.Equal(t, DefaultSort, ParseSort(""))
}
