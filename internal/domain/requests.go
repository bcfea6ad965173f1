package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var priorities = map[string]bool{"P1": true, "P2": true, "P3": true, "P4": true}

var statuses = map[string]bool{StatusTodo: true, StatusInProgress: true, StatusDone: true}

type LoginRequest struct {
	Email    string `json:"email" minLength:"3"`
	Password string `json:"password" minLength:"1"`
}

type RegisterRequest struct {
	Username string `json:"username" minLength:"1"`
	Email    string `json:"email" minLength:"3"`
	Password string `json:"password" minLength:"6"`
}

func (r RegisterRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username required")
	}
	if !strings.Contains(r.Email, "@") {
		return fmt.Errorf("invalid email %q", r.Email)
	}
	if len(r.Password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

func (r CreateProjectRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("project name required")
	}
	return nil
}

type UpdateProjectRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty" enum:"active,archived"`
	EndDate     string `json:"endDate,omitempty"`
}

func (r UpdateProjectRequest) Validate() error {
	if r.Status != "" && r.Status != "active" && r.Status != "archived" {
		return fmt.Errorf("invalid project status %q", r.Status)
	}
	if r.EndDate != "" {
		if _, err := ParseDate(r.EndDate); err != nil {
			return err
		}
	}
	return nil
}

type CreateStageRequest struct {
	ProjectID        int64  `json:"project_id"`
	Name             string `json:"name" minLength:"1"`
	Description      string `json:"description,omitempty"`
	Color            string `json:"color,omitempty"`
	TaskLimit        *int   `json:"task_limit,omitempty"`
	AutoAssignStatus string `json:"autoAssignStatus,omitempty"`
}

func (r CreateStageRequest) Validate() error {
	if r.ProjectID <= 0 {
		return errors.New("project_id required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("stage name required")
	}
	if r.TaskLimit != nil && *r.TaskLimit < 0 {
		return errors.New("task_limit must not be negative")
	}
	return nil
}

// UpdateStageRequest uses the camelCase keys the stage settings form sends.
type UpdateStageRequest struct {
	Name                string  `json:"name,omitempty"`
	Description         string  `json:"description,omitempty"`
	Color               string  `json:"color,omitempty"`
	TaskLimit           *int    `json:"task_limit,omitempty"`
	IsCompleted         *bool   `json:"is_completed,omitempty"`
	MaxTasks            *int    `json:"maxTasks,omitempty"`
	AllowTaskCreation   *bool   `json:"allowTaskCreation,omitempty"`
	AllowTaskDeletion   *bool   `json:"allowTaskDeletion,omitempty"`
	AllowTaskMovement   *bool   `json:"allowTaskMovement,omitempty"`
	NotificationEnabled *bool   `json:"notificationEnabled,omitempty"`
	AutoAssignStatus    *string `json:"autoAssignStatus,omitempty"`
	Position            *int    `json:"position,omitempty"`
}

func (r UpdateStageRequest) Validate() error {
	if r.MaxTasks != nil && *r.MaxTasks < 0 {
		return errors.New("maxTasks must not be negative")
	}
	if r.Position != nil && *r.Position < 0 {
		return errors.New("position must not be negative")
	}
	return nil
}

type ReorderStagesRequest struct {
	StageOrders []StageOrder `json:"stage_orders" minItems:"1"`
}

type CreateTaskRequest struct {
	StageID        int64    `json:"stage_id"`
	ProjectID      int64    `json:"project_id"`
	Title          string   `json:"title" minLength:"1"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	AssigneeID     *int64   `json:"assignee_id,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	Status         string   `json:"status,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
}

func (r CreateTaskRequest) Validate() error {
	if r.StageID <= 0 || r.ProjectID <= 0 {
		return errors.New("stage_id and project_id required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("task title required")
	}
	return validateTaskFields(r.Priority, r.Status, r.DueDate, r.EstimatedHours)
}

type UpdateTaskRequest struct {
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Status         string   `json:"status,omitempty"`
	AssigneeID     *int64   `json:"assignee_id,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
}

func (r UpdateTaskRequest) Validate() error {
	return validateTaskFields(r.Priority, r.Status, r.DueDate, r.EstimatedHours)
}

func validateTaskFields(priority, status, due string, hours *float64) error {
	if priority != "" && !priorities[priority] {
		return fmt.Errorf("invalid priority %q", priority)
	}
	if status != "" && !statuses[status] {
		return fmt.Errorf("invalid status %q", status)
	}
	if due != "" {
		if _, err := ParseDate(due); err != nil {
			return err
		}
	}
	if hours != nil && *hours < 0 {
		return errors.New("estimated_hours must not be negative")
	}
	return nil
}

// MoveTaskRequest is the body of PATCH /tasks/{id}/move. A negative position
// asks the server to append.
type MoveTaskRequest struct {
	NewStageID  int64 `json:"new_stage_id" minimum:"1"`
	NewPosition int   `json:"new_position"`
}

type ReorderTasksRequest struct {
	TaskOrders []TaskOrder `json:"task_orders" minItems:"1"`
}

type CreateCommentRequest struct {
	TaskID          int64  `json:"task_id"`
	Content         string `json:"content" minLength:"1"`
	MediaID         string `json:"media_id,omitempty"`
	MediaType       string `json:"media_type,omitempty"`
	MediaName       string `json:"media_name,omitempty"`
	ReplyToID       *int64 `json:"reply_to_id,omitempty"`
	ParentCommentID *int64 `json:"parent_comment_id,omitempty"`
}

func (r CreateCommentRequest) Validate() error {
	if r.TaskID <= 0 {
		return errors.New("task_id required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return errors.New("comment content required")
	}
	return nil
}

type UpdateCommentRequest struct {
	Content string `json:"content" minLength:"1"`
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", s)
}
