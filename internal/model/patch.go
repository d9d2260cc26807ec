package model

import (
	"strings"
	"time"
)

// RecordPatch is a partial update. Nil fields are left untouched.
type RecordPatch struct {
	Title          *string       `json:"title,omitempty"`
	Description    *string       `json:"description,omitempty"`
	Category       *string       `json:"category,omitempty"`
	Tags           *[]string     `json:"tags,omitempty"`
	Date           *string       `json:"date,omitempty"`
	Time           *string       `json:"time,omitempty"`
	Duration       *float64      `json:"duration,omitempty"`
	DueDate        *time.Time    `json:"dueDate,omitempty"`
	ClearDueDate   bool          `json:"clearDueDate,omitempty"`
	Status         *string       `json:"status,omitempty"`
	Priority       *string       `json:"priority,omitempty"`
	EstimatedHours *float64      `json:"estimatedHours,omitempty"`
	ActualHours    *float64      `json:"actualHours,omitempty"`
	Subtasks       *[]Subtask    `json:"subtasks,omitempty"`
	Comments       *[]Comment    `json:"comments,omitempty"`
	Attachments    *[]Attachment `json:"attachments,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
}

// Stamp prepares the patch for writing at now: a move to done records
// the completion time unless the caller supplied one.
func (p *RecordPatch) Stamp(now time.Time) {
	if p.Status != nil && *p.Status == StatusDone && p.CompletedAt == nil {
		p.CompletedAt = &now
	}
	if p.Tags != nil {
		tags := NormalizeTags(*p.Tags)
		p.Tags = &tags
	}
}

// Apply writes the patch onto r and bumps UpdatedAt.
func (p *RecordPatch) Apply(r *Record, now time.Time) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Tags != nil {
		r.Tags = *p.Tags
	}
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.Time != nil {
		r.Time = *p.Time
	}
	if p.Duration != nil {
		d := *p.Duration
		r.Duration = &d
	}
	if p.ClearDueDate {
		r.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		r.DueDate = &d
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.EstimatedHours != nil {
		r.EstimatedHours = *p.EstimatedHours
	}
	if p.ActualHours != nil {
		r.ActualHours = *p.ActualHours
	}
	if p.Subtasks != nil {
		r.Subtasks = *p.Subtasks
	}
	if p.Comments != nil {
		r.Comments = *p.Comments
	}
	if p.Attachments != nil {
		r.Attachments = *p.Attachments
	}
	if p.CompletedAt != nil {
		c := *p.CompletedAt
		r.CompletedAt = &c
	}
	r.UpdatedAt = now
}

// Fields renders the patch as document fields keyed by their JSON names.
// A nil value removes the field.
func (p *RecordPatch) Fields(now time.Time) map[string]any {
	fields := map[string]any{"updatedAt": now}
	set := func(key string, ok bool, v any) {
		if ok {
			fields[key] = v
		}
	}

	set("title", p.Title != nil, deref(p.Title))
	set("description", p.Description != nil, deref(p.Description))
	set("category", p.Category != nil, deref(p.Category))
	set("date", p.Date != nil, deref(p.Date))
	set("time", p.Time != nil, deref(p.Time))
	set("status", p.Status != nil, deref(p.Status))
	set("priority", p.Priority != nil, deref(p.Priority))
	if p.Tags != nil {
		fields["tags"] = *p.Tags
	}
	if p.Duration != nil {
		fields["duration"] = *p.Duration
	}
	if p.ClearDueDate {
		fields["dueDate"] = nil
	} else if p.DueDate != nil {
		fields["dueDate"] = *p.DueDate
	}
	if p.EstimatedHours != nil {
		fields["estimatedHours"] = *p.EstimatedHours
	}
	if p.ActualHours != nil {
		fields["actualHours"] = *p.ActualHours
	}
	if p.Subtasks != nil {
		fields["subtasks"] = *p.Subtasks
	}
	if p.Comments != nil {
		fields["comments"] = *p.Comments
	}
	if p.Attachments != nil {
		fields["attachments"] = *p.Attachments
	}
	if p.CompletedAt != nil {
		fields["completedAt"] = *p.CompletedAt
	}
	return fields
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Validate checks the values the patch would write.
func (p *RecordPatch) Validate() error {
	var problems []string
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		problems = append(problems, "Title is required")
	}
	if p.Status != nil && !ValidStatus(*p.Status) {
		problems = append(problems, "Invalid status")
	}
	if p.Priority != nil && !ValidPriority(*p.Priority) {
		problems = append(problems, "Invalid priority level")
	}
	if p.Date != nil && *p.Date != "" {
		if _, err := time.Parse(DateLayout, *p.Date); err != nil {
			problems = append(problems, "Invalid date")
		}
	}
	if p.Duration != nil && *p.Duration < 0 {
		problems = append(problems, "Duration must be a positive number")
	}
	if (p.EstimatedHours != nil && *p.EstimatedHours < 0) || (p.ActualHours != nil && *p.ActualHours < 0) {
		problems = append(problems, "Hours must be a positive number")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
