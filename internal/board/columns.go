package board

import (
	"strings"

	"stageboard/internal/domain"
)

// Filter narrows the tasks shown on the board.
type Filter struct {
	Status     string
	Priority   string
	AssigneeID *int64
	Search     string
	// ShowDone keeps done tasks visible. A Status of "done" implies it.
	ShowDone bool
}

func (f Filter) Match(t domain.Task) bool {
	if t.Done() && !f.ShowDone && f.Status != domain.StatusDone {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *f.AssigneeID) {
		return false
	}
	if q := strings.TrimSpace(strings.ToLower(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// Column is one stage of the rendered board.
type Column struct {
	Stage domain.Stage
	Tasks []domain.Task
	// Total counts every task of the stage, filtered or not.
	Total int
}

// Columns groups tasks by stage. It is recomputed from the flat list on every
// call; tasks of unknown stages are left out.
func Columns(stages []domain.Stage, tasks []domain.Task, f Filter) []Column {
	ordered := append([]domain.Stage(nil), stages...)
	SortStages(ordered)
	cols := make([]Column, len(ordered))
	byStage := make(map[int64]int, len(ordered))
	for i, st := range ordered {
		cols[i] = Column{Stage: st}
		byStage[st.ID] = i
	}
	for _, t := range tasks {
		i, ok := byStage[t.StageID]
		if !ok {
			continue
		}
		cols[i].Total++
		if f.Match(t) {
			cols[i].Tasks = append(cols[i].Tasks, t)
		}
	}
	for i := range cols {
		SortTasks(cols[i].Tasks)
	}
	return cols
}
