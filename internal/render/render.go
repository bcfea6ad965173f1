// Package render prints boards and lists as terminal tables.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"stageboard/internal/board"
	"stageboard/internal/domain"
)

// CardWidth is the widest a board column gets before card text wraps.
const CardWidth = 28

// Board prints one table column per stage, cards in board order.
func Board(w io.Writer, cols []board.Column, now time.Time) error {
	if len(cols) == 0 {
		_, err := fmt.Fprintln(w, "no stages")
		return err
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.SeparateRows = true
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault

	header := table.Row{}
	footer := table.Row{}
	configs := make([]table.ColumnConfig, 0, len(cols))
	depth := 0
	for i, col := range cols {
		header = append(header, col.Stage.Name)
		footer = append(footer, stageCount(col))
		configs = append(configs, table.ColumnConfig{
			Number:           i + 1,
			WidthMax:         CardWidth,
			WidthMaxEnforcer: text.WrapSoft,
		})
		if len(col.Tasks) > depth {
			depth = len(col.Tasks)
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)
	for row := 0; row < depth; row++ {
		cells := make(table.Row, len(cols))
		for i, col := range cols {
			if row < len(col.Tasks) {
				cells[i] = Card(col.Tasks[row], now)
			} else {
				cells[i] = ""
			}
		}
		tw.AppendRow(cells)
	}
	tw.AppendFooter(footer)
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

func stageCount(col board.Column) string {
	shown := fmt.Sprintf("%d", len(col.Tasks))
	if len(col.Tasks) != col.Total {
		shown = fmt.Sprintf("%d of %d", len(col.Tasks), col.Total)
	}
	if limit := col.Stage.Limit(); limit > 0 {
		return fmt.Sprintf("%s / max %d", shown, limit)
	}
	return shown
}

// Card is the text of one task on the board.
func Card(t domain.Task, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s\n%s", t.ID, t.Title, t.Priority)
	if t.AssigneeID != nil {
		fmt.Fprintf(&b, " @%d", *t.AssigneeID)
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, " due %s", t.DueDate.Format("2006-01-02"))
		if t.Overdue(now) {
			b.WriteString(" OVERDUE")
		}
	}
	if t.Done() {
		b.WriteString(" done")
	}
	return b.String()
}

func newList(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(header)
	return tw
}

func Projects(w io.Writer, projects []domain.Project, current int64) {
	tw := newList(w, table.Row{"", "ID", "Name", "Status", "Role", "Updated"})
	for _, p := range projects {
		mark := ""
		if p.ID == current {
			mark = "*"
		}
		tw.AppendRow(table.Row{mark, p.ID, p.Name, p.Status, p.UserRole, p.UpdatedAt.Format(time.RFC3339)})
	}
	tw.Render()
}

func Stages(w io.Writer, stages []domain.Stage) {
	tw := newList(w, table.Row{"ID", "Pos", "Name", "Color", "Limit", "Create", "Delete", "Move"})
	sorted := append([]domain.Stage(nil), stages...)
	board.SortStages(sorted)
	for _, s := range sorted {
		limit := "-"
		if l := s.Limit(); l > 0 {
			limit = fmt.Sprintf("%d", l)
		}
		tw.AppendRow(table.Row{s.ID, s.Position, s.Name, s.Color, limit, yesNo(s.AllowTaskCreation), yesNo(s.AllowTaskDeletion), yesNo(s.AllowTaskMovement)})
	}
	tw.Render()
}

func Tasks(w io.Writer, tasks []domain.Task, stages []domain.Stage, now time.Time) {
	names := make(map[int64]string, len(stages))
	for _, s := range stages {
		names[s.ID] = s.Name
	}
	tw := newList(w, table.Row{"ID", "Stage", "Pos", "Title", "Status", "Priority", "Due"})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 40, WidthMaxEnforcer: text.Trim}})
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02")
			if t.Overdue(now) {
				due += " !"
			}
		}
		tw.AppendRow(table.Row{t.ID, names[t.StageID], t.Position, t.Title, t.Status, t.Priority, due})
	}
	tw.Render()
}

// Comments prints a thread with replies indented under their parent.
func Comments(w io.Writer, comments []domain.Comment) {
	for i, c := range comments {
		printComment(w, c, "", i == len(comments)-1)
	}
}

func printComment(w io.Writer, c domain.Comment, prefix string, last bool) {
	connector := "├── "
	next := prefix + "│   "
	if last {
		connector = "└── "
		next = prefix + "    "
	}
	author := fmt.Sprintf("user %d", c.UserID)
	if c.User != nil {
		author = c.User.Username
	}
	fmt.Fprintf(w, "%s%s#%d %s: %s\n", prefix, connector, c.ID, author, c.Content)
	for i, r := range c.Replies {
		printComment(w, r, next, i == len(c.Replies)-1)
	}
}

func Moves(w io.Writer, moves []domain.MoveRecord) {
	tw := newList(w, table.Row{"When", "Task", "From", "To", "Pos", "Outcome", "Error"})
	for _, m := range moves {
		to := ""
		if m.ToStageID != 0 {
			to = fmt.Sprintf("%d", m.ToStageID)
		}
		tw.AppendRow(table.Row{m.TS.Local().Format("2006-01-02 15:04:05"), m.TaskID, m.FromStageID, to, m.Position, m.Outcome, m.Error})
	}
	tw.Render()
}

func Stats(w io.Writer, s domain.ProjectStats) {
	tw := newList(w, table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Tasks", s.TotalTasks},
		{"Todo", s.TodoTasks},
		{"In progress", s.InProgressTasks},
		{"Done", s.CompletedTasks},
		{"Overdue", s.OverdueTasks},
		{"Completion", fmt.Sprintf("%.1f%%", s.CompletionRate)},
		{"Stages", s.TotalStages},
		{"Members", s.TotalMembers},
	})
	tw.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
