package service

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
)

type memCategories struct {
	byID map[string]*model.Category
}

func newMemCategories() *memCategories {
	return &memCategories{byID: map[string]*model.Category{}}
}

func (m *memCategories) Create(c *model.Category) error {
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCategories) ByID(principalID, id string) (*model.Category, error) {
	c, ok := m.byID[id]
	if !ok || c.PrincipalID == nil || *c.PrincipalID != principalID {
		return nil, repository.ErrCategoryNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCategories) Categories(principalID string) ([]*model.Category, error) {
	var out []*model.Category
	for _, c := range m.byID {
		if c.PrincipalID != nil && *c.PrincipalID == principalID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCategories) Update(c *model.Category) error {
	if _, ok := m.byID[c.ID]; !ok {
		return repository.ErrCategoryNotFound
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCategories) Delete(principalID, id string) error {
	if _, err := m.ByID(principalID, id); err != nil {
		return err
	}
	delete(m.byID, id)
	return nil
}

func newCategoryService() (*CategoryService, *memCategories, *clockwork.FakeClock) {
	repo := newMemCategories()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCategoryService(repo, clock), repo, clock
}

func TestCategoryService_BuiltIns(t *testing.T) {
	svc, _, _ := newCategoryService()

	all, err := svc.All("p1")
	require.NoError(t, err)
	assert.Len(t, all, 13)
	for _, c := range all {
		assert.True(t, c.BuiltIn, c.ID)
		assert.Len(t, c.Templates, 3, c.ID)
	}

	dev, err := svc.ByRole("p1", model.RoleDeveloper)
	require.NoError(t, err)
	assert.Len(t, dev, 8)
	for _, c := range dev {
		assert.Contains(t, []string{model.RoleDeveloper, model.RoleGeneric}, c.Role)
	}

	// Callers get copies.
	all[0].Templates[0] = "changed"
	again, err := svc.ByID("p1", all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "UI Implementation", again.Templates[0])
}

func TestCategoryService_CustomLifecycle(t *testing.T) {
	svc, _, clock := newCategoryService()

	c, err := svc.Add("p1", model.Category{Name: "Side Projects!"})
	require.NoError(t, err)
	assert.Equal(t, "custom-side-projects-1717243200000", c.ID)
	assert.Equal(t, model.RoleGeneric, c.Role)
	assert.Equal(t, "#6c757d", c.Color)
	assert.Equal(t, "📁", c.Icon)
	assert.True(t, c.CreatedAt.Equal(clock.Now()))

	all, err := svc.All("p1")
	require.NoError(t, err)
	assert.Len(t, all, 14)

	others, err := svc.All("p2")
	require.NoError(t, err)
	assert.Len(t, others, 13)

	name := "Weekend Projects"
	updated, err := svc.Update("p1", c.ID, CategoryPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	withTemplate, err := svc.AddTemplate("p1", c.ID, "Prototype")
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"Prototype"}, withTemplate.Templates)

	require.NoError(t, svc.Delete("p1", c.ID))
	_, err = svc.ByID("p1", c.ID)
	assert.ErrorIs(t, err, repository.ErrCategoryNotFound)
}

func TestCategoryService_BuiltInsAreImmutable(t *testing.T) {
	svc, _, _ := newCategoryService()

	name := "Renamed"
	_, err := svc.Update("p1", "dev-frontend", CategoryPatch{Name: &name})
	assert.ErrorIs(t, err, ErrBuiltInCategory)
	assert.ErrorIs(t, svc.Delete("p1", "general-admin"), ErrBuiltInCategory)
	_, err = svc.AddTemplate("p1", "study-research", "Survey")
	assert.ErrorIs(t, err, ErrBuiltInCategory)
	_, err = svc.Add("p1", model.Category{ID: "dev-backend", Name: "Backend"})
	assert.ErrorIs(t, err, ErrBuiltInCategory)
}

func TestCategoryService_AddRequiresName(t *testing.T) {
	svc, _, _ := newCategoryService()

	_, err := svc.Add("p1", model.Category{Name: "   "})
	assert.Error(t, err)
}

func TestCategoryService_FromTemplate(t *testing.T) {
	svc, _, _ := newCategoryService()

	r, err := svc.FromTemplate("p1", "dev-testing", "Unit Tests")
	require.NoError(t, err)
	assert.Equal(t, model.KindTask, r.Kind)
	assert.Equal(t, "Unit Tests", r.Title)
	assert.Equal(t, "Unit Tests task created from Testing & QA template", r.Description)
	assert.Equal(t, "dev-testing", r.Category)
	assert.Equal(t, model.PriorityMedium, r.Priority)
	assert.Equal(t, model.StatusTodo, r.Status)
	assert.Equal(t, []string{"developer", "testing & qa"}, r.Tags)

	_, err = svc.FromTemplate("p1", "dev-testing", "Nope")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestCategoryService_Stats(t *testing.T) {
	svc, _, _ := newCategoryService()

	cats := BuiltInCategories()[:2]
	records := []*model.Record{
		{Category: "dev-frontend", Status: model.StatusDone},
		{Category: "dev-frontend", Status: model.StatusInProgress},
		{Category: "dev-frontend", Status: model.StatusTodo},
		{Category: "dev-frontend", Status: model.StatusReview},
		{Category: "dev-backend", Status: model.StatusDone},
		{Category: "elsewhere", Status: model.StatusDone},
	}

	stats := svc.Stats(cats, records)
	require.Len(t, stats, 2)
	assert.Equal(t, CategoryStat{Category: cats[0], Total: 4, Completed: 1, InProgress: 1, Todo: 1}, stats[0])
	assert.Equal(t, CategoryStat{Category: cats[1], Total: 1, Completed: 1}, stats[1])
}

func TestCategoryService_Recommend(t *testing.T) {
	svc, _, _ := newCategoryService()

	recs, err := svc.Recommend("p1", "Fix API bug", "backend development for the new feature")
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.LessOrEqual(t, len(recs), 3)

	// "backend development" names the category and hits five developer keywords.
	assert.Equal(t, "dev-backend", recs[0].Category.ID)
	assert.Equal(t, 20, recs[0].Score)
	assert.Equal(t, 1.0, recs[0].Confidence)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
	}

	none, err := svc.Recommend("p1", "zzz", "")
	require.NoError(t, err)
	assert.Empty(t, none)

	low, err := svc.Recommend("p1", "weekly meeting", "")
	require.NoError(t, err)
	require.Len(t, low, 3)
	assert.Equal(t, model.RoleGeneric, low[0].Category.Role)
	assert.InDelta(t, 0.2, low[0].Confidence, 1e-9)
}
