package model

import (
	"math"
	"strings"
	"time"
)

const (
	KindMemo = "memo"
	KindTask = "task"
)

const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultCategory = "general"
)

var priorityRank = map[string]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

var statusProgress = map[string]int{
	StatusTodo:       0,
	StatusInProgress: 50,
	StatusReview:     80,
	StatusDone:       100,
}

// PriorityRank orders priorities low < medium < high < critical.
// Unknown values rank below low.
func PriorityRank(priority string) int {
	return priorityRank[priority]
}

func ValidPriority(priority string) bool {
	_, ok := priorityRank[priority]
	return ok
}

func ValidStatus(status string) bool {
	_, ok := statusProgress[status]
	return ok
}

// Record is a journal entry: a memo or a task.
type Record struct {
	ID             string       `json:"id"`
	PrincipalID    string       `json:"userId"`
	Kind           string       `json:"kind"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Category       string       `json:"category"`
	Tags           []string     `json:"tags,omitempty"`
	Date           string       `json:"date,omitempty"`
	Time           string       `json:"time,omitempty"`
	Duration       *float64     `json:"duration,omitempty"` // hours
	DueDate        *time.Time   `json:"dueDate,omitempty"`
	Status         string       `json:"status,omitempty"`
	Priority       string       `json:"priority,omitempty"`
	EstimatedHours float64      `json:"estimatedHours,omitempty"`
	ActualHours    float64      `json:"actualHours,omitempty"`
	Subtasks       []Subtask    `json:"subtasks,omitempty"`
	Comments       []Comment    `json:"comments,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

type Subtask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	PrincipalID string    `json:"userId"`
	AuthorName  string    `json:"userName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ApplyDefaults fills the fields a new record may omit.
func (r *Record) ApplyDefaults() {
	if r.Kind == "" {
		r.Kind = KindMemo
	}
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.Kind == KindTask {
		if r.Status == "" {
			r.Status = StatusTodo
		}
		if r.Priority == "" {
			r.Priority = PriorityMedium
		}
	}
	r.Tags = NormalizeTags(r.Tags)
}

// Validate reports every problem with the record at once.
func (r *Record) Validate() error {
	var problems []string

	if strings.TrimSpace(r.Title) == "" {
		problems = append(problems, "Title is required")
	}

	switch r.Kind {
	case KindMemo:
		if r.Date == "" {
			problems = append(problems, "Date is required")
		}
		if strings.TrimSpace(r.Description) == "" {
			problems = append(problems, "Description is required")
		}
	case KindTask:
		if r.Category == "" {
			problems = append(problems, "Category is required")
		}
	default:
		problems = append(problems, "Invalid record kind")
	}

	if r.Date != "" {
		if _, err := time.Parse(DateLayout, r.Date); err != nil {
			problems = append(problems, "Invalid date")
		}
	}
	if r.Time != "" {
		if _, err := time.Parse(TimeLayout, r.Time); err != nil {
			problems = append(problems, "Invalid time")
		}
	}
	if r.Duration != nil && (*r.Duration < 0 || math.IsNaN(*r.Duration)) {
		problems = append(problems, "Duration must be a positive number")
	}
	if r.Priority != "" && !ValidPriority(r.Priority) {
		problems = append(problems, "Invalid priority level")
	}
	if r.Status != "" && !ValidStatus(r.Status) {
		problems = append(problems, "Invalid status")
	}
	if r.EstimatedHours < 0 || r.ActualHours < 0 {
		problems = append(problems, "Hours must be a positive number")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (r *Record) Complete(now time.Time) {
	r.Status = StatusDone
	r.CompletedAt = &now
	r.UpdatedAt = now
}

func (r *Record) Start(now time.Time) {
	r.Status = StatusInProgress
	r.UpdatedAt = now
}

func (r *Record) IsOverdue(now time.Time) bool {
	if r.DueDate == nil || r.Status == StatusDone {
		return false
	}
	return r.DueDate.Before(now)
}

// DaysUntilDue rounds up partial days. Nil when there is no due date.
func (r *Record) DaysUntilDue(now time.Time) *int {
	if r.DueDate == nil {
		return nil
	}
	days := int(math.Ceil(r.DueDate.Sub(now).Hours() / 24))
	return &days
}

func (r *Record) CompletionPercentage() int {
	if r.Status == StatusDone {
		return 100
	}
	if len(r.Subtasks) == 0 {
		return statusProgress[r.Status]
	}

	completed := 0
	for _, st := range r.Subtasks {
		if st.Completed {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(r.Subtasks)) * 100))
}

func (r *Record) AddSubtask(id, title string, now time.Time) {
	r.Subtasks = append(r.Subtasks, Subtask{
		ID:        id,
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
	})
	r.UpdatedAt = now
}

// ToggleSubtask flips the subtask's completion. Reports whether it was found.
func (r *Record) ToggleSubtask(id string, now time.Time) bool {
	for i := range r.Subtasks {
		if r.Subtasks[i].ID == id {
			r.Subtasks[i].Completed = !r.Subtasks[i].Completed
			r.UpdatedAt = now
			return true
		}
	}
	return false
}

func (r *Record) AddComment(id, text string, author *Principal, now time.Time) {
	r.Comments = append(r.Comments, Comment{
		ID:          id,
		Text:        strings.TrimSpace(text),
		PrincipalID: author.ID,
		AuthorName:  author.Name(),
		CreatedAt:   now,
	})
	r.UpdatedAt = now
}

// Hours is the logged time: the memo duration, else the task's actual hours.
func (r *Record) Hours() float64 {
	if r.Duration != nil {
		return *r.Duration
	}
	return r.ActualHours
}

// NormalizeTags trims, drops empties and removes duplicates, keeping order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SplitTags parses a comma separated tag field.
func SplitTags(raw string) []string {
	return NormalizeTags(strings.Split(raw, ","))
}

// Clone returns a copy that shares no slices with r.
func (r *Record) Clone() *Record {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	c.Subtasks = append([]Subtask(nil), r.Subtasks...)
	c.Comments = append([]Comment(nil), r.Comments...)
	c.Attachments = append([]Attachment(nil), r.Attachments...)
	if r.Duration != nil {
		d := *r.Duration
		c.Duration = &d
	}
	if r.DueDate != nil {
		d := *r.DueDate
		c.DueDate = &d
	}
	if r.CompletedAt != nil {
		d := *r.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}
