package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stageboard/internal/domain"
)

// Login exchanges credentials for a bearer token. The response is not
// enveloped.
func (c *Client) Login(ctx context.Context, email, password string) (domain.LoginResult, error) {
	var resp domain.LoginResult
	body := domain.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := c.send(ctx, http.MethodPost, "auth/login", body, &resp, true); err != nil {
		return resp, err
	}
	if resp.Token == "" {
		return resp, fmt.Errorf("login response carried no token")
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	var resp struct {
		User domain.User `json:"user"`
	}
	if err := req.Validate(); err != nil {
		return resp.User, err
	}
	err := c.send(ctx, http.MethodPost, "auth/register", req, &resp, true)
	return resp.User, err
}

// Me returns the user the stored token belongs to.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var resp struct {
		User domain.User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "auth/me", nil, &resp)
	return resp.User, err
}

// Claims is the unverified content of a login token.
type Claims struct {
	UserID    int64
	Email     string
	Role      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// TokenClaims reads a token's claims without verifying its signature; the
// server stays the only judge of validity.
func TokenClaims(token string) (Claims, error) {
	tc := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, tc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	out := Claims{UserID: tc.UserID, Email: tc.Email, Role: tc.Role}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	return out, nil
}

func (c *Client) Projects(ctx context.Context) ([]domain.Project, error) {
	var resp struct {
		Projects []domain.Project `json:"projects"`
	}
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp.Projects, err
}

// Project returns the project with the caller's role in it.
func (c *Client) Project(ctx context.Context, id int64) (domain.Project, error) {
	var resp struct {
		Project  domain.Project `json:"project"`
		UserRole string         `json:"user_role"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d", id), nil, &resp); err != nil {
		return resp.Project, err
	}
	if resp.UserRole != "" {
		resp.Project.UserRole = resp.UserRole
	}
	return resp.Project, nil
}

func (c *Client) CreateProject(ctx context.Context, req domain.CreateProjectRequest) (domain.Project, error) {
	var resp struct {
		Project domain.Project `json:"project"`
	}
	if err := req.Validate(); err != nil {
		return resp.Project, err
	}
	err := c.do(ctx, http.MethodPost, "projects", req, &resp)
	return resp.Project, err
}

func (c *Client) UpdateProject(ctx context.Context, id int64, req domain.UpdateProjectRequest) (domain.Project, error) {
	var resp struct {
		Project domain.Project `json:"project"`
	}
	if err := req.Validate(); err != nil {
		return resp.Project, err
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("projects/%d", id), req, &resp)
	return resp.Project, err
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("projects/%d", id), nil, nil)
}

func (c *Client) Stages(ctx context.Context, projectID int64) ([]domain.Stage, error) {
	var resp struct {
		Stages []domain.Stage `json:"stages"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("project-stages/%d", projectID), nil, &resp)
	return resp.Stages, err
}

func (c *Client) CreateStage(ctx context.Context, req domain.CreateStageRequest) (domain.Stage, error) {
	var resp struct {
		Stage domain.Stage `json:"stage"`
	}
	if err := req.Validate(); err != nil {
		return resp.Stage, err
	}
	err := c.do(ctx, http.MethodPost, "stages", req, &resp)
	return resp.Stage, err
}

func (c *Client) UpdateStage(ctx context.Context, id int64, req domain.UpdateStageRequest) (domain.Stage, error) {
	var resp struct {
		Stage domain.Stage `json:"stage"`
	}
	if err := req.Validate(); err != nil {
		return resp.Stage, err
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("stages/%d", id), req, &resp)
	return resp.Stage, err
}

func (c *Client) DeleteStage(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("stages/%d", id), nil, nil)
}

func (c *Client) ReorderStages(ctx context.Context, orders []domain.StageOrder) error {
	if len(orders) == 0 {
		return fmt.Errorf("stage_orders required")
	}
	return c.do(ctx, http.MethodPost, "stages/reorder", domain.ReorderStagesRequest{StageOrders: orders}, nil)
}

func (c *Client) Tasks(ctx context.Context, projectID int64) ([]domain.Task, error) {
	var resp struct {
		Tasks []domain.Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("project-tasks/%d", projectID), nil, &resp)
	return resp.Tasks, err
}

func (c *Client) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (domain.Task, error) {
	var resp struct {
		Task domain.Task `json:"task"`
	}
	if err := req.Validate(); err != nil {
		return resp.Task, err
	}
	err := c.do(ctx, http.MethodPost, "tasks", req, &resp)
	return resp.Task, err
}

func (c *Client) UpdateTask(ctx context.Context, id int64, req domain.UpdateTaskRequest) (domain.Task, error) {
	var resp struct {
		Task domain.Task `json:"task"`
	}
	if err := req.Validate(); err != nil {
		return resp.Task, err
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d", id), req, &resp)
	return resp.Task, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, nil)
}

// MoveTask confirms a move. The returned task has a zero ID when the server
// acknowledged the move without echoing the record.
func (c *Client) MoveTask(ctx context.Context, id int64, req domain.MoveTaskRequest) (domain.Task, error) {
	var resp struct {
		Task *domain.Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d/move", id), req, &resp); err != nil {
		return domain.Task{}, err
	}
	if resp.Task == nil {
		return domain.Task{}, nil
	}
	return *resp.Task, nil
}

func (c *Client) ReorderTasks(ctx context.Context, orders []domain.TaskOrder) error {
	if len(orders) == 0 {
		return fmt.Errorf("task_orders required")
	}
	return c.do(ctx, http.MethodPost, "tasks/reorder", domain.ReorderTasksRequest{TaskOrders: orders}, nil)
}

func (c *Client) Comments(ctx context.Context, taskID int64) ([]domain.Comment, error) {
	var resp struct {
		Comments []domain.Comment `json:"comments"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("task-comments/%d", taskID), nil, &resp)
	return resp.Comments, err
}

func (c *Client) CreateComment(ctx context.Context, req domain.CreateCommentRequest) (domain.Comment, error) {
	var resp struct {
		Comment domain.Comment `json:"comment"`
	}
	if err := req.Validate(); err != nil {
		return resp.Comment, err
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("task-comments/%d", req.TaskID), req, &resp)
	return resp.Comment, err
}

func (c *Client) UpdateComment(ctx context.Context, id int64, content string) (domain.Comment, error) {
	var resp struct {
		Comment domain.Comment `json:"comment"`
	}
	if strings.TrimSpace(content) == "" {
		return resp.Comment, fmt.Errorf("comment content required")
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("comments/%d", id), domain.UpdateCommentRequest{Content: content}, &resp)
	return resp.Comment, err
}

func (c *Client) DeleteComment(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("comments/%d", id), nil, nil)
}

func (c *Client) ProjectStats(ctx context.Context, projectID int64) (domain.ProjectStats, error) {
	var resp domain.ProjectStats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("analytics/project-stats/%d", projectID), nil, &resp)
	return resp, err
}
