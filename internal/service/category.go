package service

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
	"github.com/templui/tracker/internal/validation"
)

var (
	ErrBuiltInCategory = errors.New("built-in categories cannot be changed")
	ErrUnknownTemplate = errors.New("template not found in category")
)

var builtInCategories = []model.Category{
	{ID: "dev-frontend", Name: "Frontend Development", Description: "Client-side development tasks", Role: model.RoleDeveloper, Color: "#61dafb", Icon: "🔧",
		Templates: model.StringList{"UI Implementation", "Component Development", "Responsive Design"}},
	{ID: "dev-backend", Name: "Backend Development", Description: "Server-side development tasks", Role: model.RoleDeveloper, Color: "#68217a", Icon: "⚙️",
		Templates: model.StringList{"API Development", "Database Design", "Server Configuration"}},
	{ID: "dev-testing", Name: "Testing & QA", Description: "Testing and quality assurance tasks", Role: model.RoleDeveloper, Color: "#28a745", Icon: "🧪",
		Templates: model.StringList{"Unit Tests", "Integration Tests", "Bug Fixes"}},
	{ID: "dev-devops", Name: "DevOps & Deployment", Description: "Deployment and infrastructure tasks", Role: model.RoleDeveloper, Color: "#ff6b35", Icon: "🚀",
		Templates: model.StringList{"CI/CD Setup", "Server Deployment", "Monitoring"}},
	{ID: "dev-review", Name: "Code Review", Description: "Code review and documentation tasks", Role: model.RoleDeveloper, Color: "#6f42c1", Icon: "👀",
		Templates: model.StringList{"Pull Request Review", "Code Documentation", "Architecture Review"}},

	{ID: "study-coursework", Name: "Coursework", Description: "Academic assignments and coursework", Role: model.RoleStudent, Color: "#007bff", Icon: "📚",
		Templates: model.StringList{"Assignment Completion", "Essay Writing", "Problem Sets"}},
	{ID: "study-research", Name: "Research", Description: "Research and investigation tasks", Role: model.RoleStudent, Color: "#17a2b8", Icon: "🔍",
		Templates: model.StringList{"Literature Review", "Data Collection", "Analysis"}},
	{ID: "study-projects", Name: "Projects", Description: "Academic and personal projects", Role: model.RoleStudent, Color: "#e83e8c", Icon: "🎯",
		Templates: model.StringList{"Capstone Project", "Group Project", "Portfolio Development"}},
	{ID: "study-learning", Name: "Skill Development", Description: "Learning new skills and technologies", Role: model.RoleStudent, Color: "#fd7e14", Icon: "🌱",
		Templates: model.StringList{"Tutorial Completion", "Certification Prep", "Practice Exercises"}},
	{ID: "study-internship", Name: "Internship Tasks", Description: "Work-related internship activities", Role: model.RoleStudent, Color: "#20c997", Icon: "🏢",
		Templates: model.StringList{"Daily Tasks", "Meeting Preparation", "Progress Reports"}},

	{ID: "general-personal", Name: "Personal", Description: "Personal tasks and goals", Role: model.RoleGeneric, Color: "#6c757d", Icon: "👤",
		Templates: model.StringList{"Personal Goal", "Health & Fitness", "Hobby Project"}},
	{ID: "general-admin", Name: "Administrative", Description: "Administrative and organizational tasks", Role: model.RoleGeneric, Color: "#ffc107", Icon: "📋",
		Templates: model.StringList{"Documentation", "Meeting Schedule", "Email Management"}},
	{ID: "general-planning", Name: "Planning & Strategy", Description: "Planning and strategic tasks", Role: model.RoleGeneric, Color: "#dc3545", Icon: "📊",
		Templates: model.StringList{"Goal Setting", "Strategic Planning", "Timeline Creation"}},
}

var roleKeywords = map[string][]string{
	model.RoleDeveloper: {"code", "programming", "development", "api", "frontend", "backend", "testing", "deployment", "bug", "feature"},
	model.RoleStudent:   {"study", "learn", "assignment", "project", "research", "coursework", "internship", "skill"},
	model.RoleGeneric:   {"personal", "admin", "meeting", "planning", "goal"},
}

const (
	defaultCategoryColor = "#6c757d"
	defaultCategoryIcon  = "📁"
	maxRecommendations   = 3
)

// CategoryPatch changes a custom category. Nil fields stay as they are.
type CategoryPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Role        *string   `json:"role,omitempty"`
	Color       *string   `json:"color,omitempty"`
	Icon        *string   `json:"icon,omitempty"`
	Templates   *[]string `json:"templates,omitempty"`
}

type CategoryStat struct {
	Category   *model.Category `json:"category"`
	Total      int             `json:"total"`
	Completed  int             `json:"completed"`
	InProgress int             `json:"inProgress"`
	Todo       int             `json:"todo"`
}

type Recommendation struct {
	Category   *model.Category `json:"category"`
	Score      int             `json:"score"`
	Confidence float64         `json:"confidence"`
}

// CategoryService serves the built-in role categories together with each
// principal's custom ones. Built-ins are immutable.
type CategoryService struct {
	repo  repository.CategoryRepository
	clock clockwork.Clock
}

func NewCategoryService(repo repository.CategoryRepository, clock clockwork.Clock) *CategoryService {
	return &CategoryService{repo: repo, clock: clock}
}

// All returns the built-ins followed by the principal's custom categories.
func (s *CategoryService) All(principalID string) ([]*model.Category, error) {
	custom, err := s.repo.Categories(principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	out := make([]*model.Category, 0, len(builtInCategories)+len(custom))
	out = append(out, BuiltInCategories()...)
	return append(out, custom...), nil
}

// ByRole keeps the categories for role plus the generic ones.
func (s *CategoryService) ByRole(principalID, role string) ([]*model.Category, error) {
	all, err := s.All(principalID)
	if err != nil {
		return nil, err
	}
	var out []*model.Category
	for _, c := range all {
		if c.Role == role || c.Role == model.RoleGeneric {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *CategoryService) ByID(principalID, id string) (*model.Category, error) {
	if c := builtIn(id); c != nil {
		return c, nil
	}
	return s.repo.ByID(principalID, id)
}

// Add creates a custom category. Missing role, color and icon get defaults.
func (s *CategoryService) Add(principalID string, c model.Category) (*model.Category, error) {
	if err := validation.ValidateName(c.Name); err != nil {
		return nil, &model.ValidationError{Problems: []string{err.Error()}}
	}

	now := s.clock.Now().UTC()
	owner := principalID
	category := &model.Category{
		ID:          c.ID,
		PrincipalID: &owner,
		Name:        strings.TrimSpace(c.Name),
		Description: c.Description,
		Role:        c.Role,
		Color:       c.Color,
		Icon:        c.Icon,
		Templates:   c.Templates,
		CreatedAt:   now,
	}
	if category.ID == "" {
		category.ID = categoryID(category.Name, now.UnixMilli())
	}
	if builtIn(category.ID) != nil {
		return nil, ErrBuiltInCategory
	}
	if category.Role == "" {
		category.Role = model.RoleGeneric
	}
	if category.Color == "" {
		category.Color = defaultCategoryColor
	}
	if category.Icon == "" {
		category.Icon = defaultCategoryIcon
	}
	if category.Templates == nil {
		category.Templates = model.StringList{}
	}

	if err := s.repo.Create(category); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return category, nil
}

func (s *CategoryService) Update(principalID, id string, patch CategoryPatch) (*model.Category, error) {
	if builtIn(id) != nil {
		return nil, ErrBuiltInCategory
	}

	c, err := s.repo.ByID(principalID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if err := validation.ValidateName(*patch.Name); err != nil {
			return nil, &model.ValidationError{Problems: []string{err.Error()}}
		}
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Role != nil {
		c.Role = *patch.Role
	}
	if patch.Color != nil {
		c.Color = *patch.Color
	}
	if patch.Icon != nil {
		c.Icon = *patch.Icon
	}
	if patch.Templates != nil {
		c.Templates = model.StringList(*patch.Templates)
	}

	if err := s.repo.Update(c); err != nil {
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return c, nil
}

func (s *CategoryService) Delete(principalID, id string) error {
	if builtIn(id) != nil {
		return ErrBuiltInCategory
	}
	return s.repo.Delete(principalID, id)
}

// AddTemplate appends a task template to a custom category.
func (s *CategoryService) AddTemplate(principalID, id, template string) (*model.Category, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return nil, &model.ValidationError{Problems: []string{"template name is required"}}
	}
	if builtIn(id) != nil {
		return nil, ErrBuiltInCategory
	}

	c, err := s.repo.ByID(principalID, id)
	if err != nil {
		return nil, err
	}
	if c.HasTemplate(template) {
		return c, nil
	}
	templates := append([]string(c.Templates), template)
	return s.Update(principalID, id, CategoryPatch{Templates: &templates})
}

// FromTemplate builds an unsaved task from one of a category's templates.
func (s *CategoryService) FromTemplate(principalID, categoryID, template string) (*model.Record, error) {
	c, err := s.ByID(principalID, categoryID)
	if err != nil {
		return nil, err
	}
	if !c.HasTemplate(template) {
		return nil, ErrUnknownTemplate
	}

	return &model.Record{
		Kind:        model.KindTask,
		Title:       template,
		Description: fmt.Sprintf("%s task created from %s template", template, c.Name),
		Category:    c.ID,
		Priority:    model.PriorityMedium,
		Status:      model.StatusTodo,
		Tags:        []string{c.Role, strings.ToLower(c.Name)},
	}, nil
}

// Stats counts records per category by status. Records in unknown
// categories are not counted.
func (s *CategoryService) Stats(categories []*model.Category, records []*model.Record) []CategoryStat {
	stats := make([]CategoryStat, len(categories))
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		stats[i].Category = c
		index[c.ID] = i
	}

	for _, r := range records {
		i, ok := index[r.Category]
		if !ok {
			continue
		}
		stats[i].Total++
		switch r.Status {
		case model.StatusDone:
			stats[i].Completed++
		case model.StatusInProgress:
			stats[i].InProgress++
		case model.StatusTodo:
			stats[i].Todo++
		}
	}
	return stats
}

// Recommend scores categories against a draft's title and description and
// returns the best three. A name match scores 10, a template 5 and each
// role keyword 2.
func (s *CategoryService) Recommend(principalID, title, description string) ([]Recommendation, error) {
	all, err := s.All(principalID)
	if err != nil {
		return nil, err
	}

	content := strings.ToLower(title + " " + description)
	var out []Recommendation
	for _, c := range all {
		score := 0
		if strings.Contains(content, strings.ToLower(c.Name)) {
			score += 10
		}
		for _, t := range c.Templates {
			if strings.Contains(content, strings.ToLower(t)) {
				score += 5
			}
		}
		for _, kw := range roleKeywords[c.Role] {
			if strings.Contains(content, kw) {
				score += 2
			}
		}
		if score > 0 {
			out = append(out, Recommendation{
				Category:   c,
				Score:      score,
				Confidence: min(float64(score)/10, 1),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out, nil
}

// Custom returns only the principal's own categories, for export.
func (s *CategoryService) Custom(principalID string) ([]*model.Category, error) {
	return s.repo.Categories(principalID)
}

// BuiltInCategories returns fresh copies of the built-in categories.
func BuiltInCategories() []*model.Category {
	out := make([]*model.Category, len(builtInCategories))
	for i := range builtInCategories {
		c := builtInCategories[i]
		c.Templates = append(model.StringList(nil), c.Templates...)
		c.BuiltIn = true
		out[i] = &c
	}
	return out
}

func builtIn(id string) *model.Category {
	for i := range builtInCategories {
		if builtInCategories[i].ID == id {
			c := builtInCategories[i]
			c.Templates = append(model.StringList(nil), c.Templates...)
			c.BuiltIn = true
			return &c
		}
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func categoryID(name string, stamp int64) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	return fmt.Sprintf("custom-%s-%d", slug, stamp)
}
