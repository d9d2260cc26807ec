package service

import (
	"math"
	"sort"
	"time"

	"github.com/templui/tracker/internal/model"
)

const recentDays = 7

type CategoryTotal struct {
	Count int     `json:"count"`
	Hours float64 `json:"hours"`
}

// Stats summarizes a principal's records for the dashboard.
type Stats struct {
	Total          int                      `json:"total"`
	ByStatus       map[string]int           `json:"byStatus"`
	ByPriority     map[string]int           `json:"byPriority"`
	ByCategory     map[string]CategoryTotal `json:"byCategory"`
	Completed      int                      `json:"completed"`
	Overdue        int                      `json:"overdue"`
	CompletionRate int                      `json:"completionRate"` // percent of tasks done
	Recent         int                      `json:"recent"`
	TotalHours     float64                  `json:"totalHours"`
	WeekHours      float64                  `json:"weekHours"`
	AverageHours   float64                  `json:"averageHours"` // per day with entries
	LongestStreak  int                      `json:"longestStreak"`
}

// Summarize computes Stats as of now. Records are dated by their Date
// field, or by their creation day when it is empty.
func Summarize(records []*model.Record, now time.Time) Stats {
	st := Stats{
		Total:      len(records),
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
		ByCategory: map[string]CategoryTotal{},
	}

	today := day(now)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	recentCutoff := today.AddDate(0, 0, -recentDays)

	days := map[time.Time]bool{}
	tasks := 0
	for _, r := range records {
		hours := r.Hours()
		st.TotalHours += hours

		category := r.Category
		if category == "" {
			category = model.DefaultCategory
		}
		ct := st.ByCategory[category]
		ct.Count++
		ct.Hours += hours
		st.ByCategory[category] = ct

		if r.Kind == model.KindTask {
			tasks++
			st.ByStatus[r.Status]++
			st.ByPriority[r.Priority]++
			if r.Status == model.StatusDone {
				st.Completed++
			}
			if r.IsOverdue(now) {
				st.Overdue++
			}
		}

		d, ok := recordDay(r, now.Location())
		if !ok {
			continue
		}
		days[d] = true
		if !d.Before(weekStart) {
			st.WeekHours += hours
		}
		if !d.Before(recentCutoff) {
			st.Recent++
		}
	}

	if tasks > 0 {
		st.CompletionRate = int(math.Round(float64(st.Completed) / float64(tasks) * 100))
	}
	if len(days) > 0 {
		st.AverageHours = st.TotalHours / float64(len(days))
	}
	st.LongestStreak = longestStreak(days)
	return st
}

func longestStreak(days map[time.Time]bool) int {
	if len(days) == 0 {
		return 0
	}
	sorted := make([]time.Time, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	longest, current := 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].AddDate(0, 0, 1).Equal(sorted[i]) {
			current++
			longest = max(longest, current)
		} else {
			current = 1
		}
	}
	return longest
}

func recordDay(r *model.Record, loc *time.Location) (time.Time, bool) {
	if r.Date != "" {
		d, err := time.ParseInLocation(model.DateLayout, r.Date, loc)
		if err == nil {
			return d, true
		}
	}
	if r.CreatedAt.IsZero() {
		return time.Time{}, false
	}
	return day(r.CreatedAt.In(loc)), true
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
