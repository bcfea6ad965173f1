package domain

import "time"

const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"

	DefaultPriority   = "P2"
	DefaultStageColor = "#3B82F6"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role" enum:"admin,user"`
}

func (u User) IsAdmin() bool { return u.Role == "admin" }

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Project struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	OwnerID     int64      `json:"owner_id"`
	Status      string     `json:"status" enum:"active,archived"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	UserRole    string     `json:"user_role,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Stage struct {
	ID                  int64      `json:"id"`
	ProjectID           int64      `json:"project_id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Color               string     `json:"color"`
	Position            int        `json:"position"`
	TaskLimit           *int       `json:"task_limit,omitempty"`
	IsCompleted         bool       `json:"is_completed"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedBy           int64      `json:"created_by"`
	Version             int        `json:"version"`
	AllowTaskCreation   bool       `json:"allow_task_creation"`
	AllowTaskDeletion   bool       `json:"allow_task_deletion"`
	AllowTaskMovement   bool       `json:"allow_task_movement"`
	MaxTasks            *int       `json:"max_tasks,omitempty"`
	NotificationEnabled bool       `json:"notification_enabled"`
	AutoAssignStatus    string     `json:"auto_assign_status,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Limit returns the effective task cap of the stage, or 0 when uncapped.
func (s Stage) Limit() int {
	if s.MaxTasks != nil && *s.MaxTasks > 0 {
		return *s.MaxTasks
	}
	if s.TaskLimit != nil && *s.TaskLimit > 0 {
		return *s.TaskLimit
	}
	return 0
}

type Task struct {
	ID             int64      `json:"id"`
	StageID        int64      `json:"stage_id"`
	ProjectID      int64      `json:"project_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status" enum:"todo,in_progress,done"`
	Priority       string     `json:"priority" enum:"P1,P2,P3,P4"`
	AssigneeID     *int64     `json:"assignee_id,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ActualHours    *float64   `json:"actual_hours,omitempty"`
	Position       int        `json:"position"`
	CreatedBy      int64      `json:"created_by"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (t Task) Done() bool { return t.Status == StatusDone }

// Overdue reports whether the task is past its due date and not done.
func (t Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && !t.Done() && t.DueDate.Before(now)
}

type Comment struct {
	ID              int64      `json:"id"`
	Content         string     `json:"content"`
	UserID          int64      `json:"user_id"`
	TaskID          int64      `json:"task_id"`
	MediaID         string     `json:"media_id,omitempty"`
	MediaType       string     `json:"media_type,omitempty"`
	MediaName       string     `json:"media_name,omitempty"`
	ReplyToID       *int64     `json:"reply_to_id,omitempty"`
	ParentCommentID *int64     `json:"parent_comment_id,omitempty"`
	User            *User      `json:"user,omitempty"`
	Replies         []Comment  `json:"replies,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

type ProjectStats struct {
	ProjectID       int64   `json:"project_id"`
	TotalTasks      int     `json:"total_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	InProgressTasks int     `json:"in_progress_tasks"`
	TodoTasks       int     `json:"todo_tasks"`
	OverdueTasks    int     `json:"overdue_tasks"`
	CompletionRate  float64 `json:"completion_rate"`
	TotalStages     int     `json:"total_stages"`
	TotalMembers    int     `json:"total_members"`
}

// TaskOrder assigns a position to a task in a bulk reorder.
type TaskOrder struct {
	TaskID   int64 `json:"task_id"`
	Position int   `json:"position"`
}

// StageOrder assigns a position to a stage in a bulk reorder.
type StageOrder struct {
	StageID  int64 `json:"stage_id"`
	Position int   `json:"position"`
}

// MoveRecord is one entry of the local move journal.
type MoveRecord struct {
	ID          int64     `json:"id"`
	TS          time.Time `json:"ts"`
	ProjectID   int64     `json:"project_id"`
	TaskID      int64     `json:"task_id"`
	FromStageID int64     `json:"from_stage_id"`
	ToStageID   int64     `json:"to_stage_id"`
	Position    int       `json:"position"`
	Outcome     string    `json:"outcome" enum:"confirmed,rolled_back,cancelled"`
	Error       string    `json:"error,omitempty"`
}

const (
	MoveConfirmed  = "confirmed"
	MoveRolledBack = "rolled_back"
	MoveCancelled  = "cancelled"
)
