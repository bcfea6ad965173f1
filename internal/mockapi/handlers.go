package mockapi

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"stageboard/internal/domain"
)

type idPath struct {
	ID int64 `path:"id"`
}

type projectPath struct {
	ProjectID int64 `path:"projectId"`
}

type taskPath struct {
	TaskID int64 `path:"taskId"`
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerProjects(api huma.API, st *state) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items := st.listProjects(p)
		return ok(map[string]any{"projects": items, "total": len(items)})
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-project",
		Method:      http.MethodPost,
		Path:        "/projects",
		Summary:     "Create project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.CreateProjectRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, err := st.createProject(p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"project": proj, "message": "Project created successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, err := st.project(p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"project": proj, "user_role": proj.UserRole})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPut,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                       `path:"id"`
		Body domain.UpdateProjectRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, err := st.updateProject(p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"project": proj, "message": "Project updated successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}",
		Summary:     "Delete project with its stages and tasks",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := st.deleteProject(p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"message": "Project deleted successfully"})
	})
}

func registerStages(api huma.API, st *state) {
	huma.Register(api, huma.Operation{
		OperationID: "list-project-stages",
		Method:      http.MethodGet,
		Path:        "/project-stages/{projectId}",
		Summary:     "List the stages of a project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *projectPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stages, err := st.stageList(p, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"stages": stages})
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-stage",
		Method:      http.MethodPost,
		Path:        "/stages",
		Summary:     "Create stage",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.CreateStageRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stage, err := st.createStage(p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"stage": stage, "message": "Stage created successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-stages",
		Method:      http.MethodPost,
		Path:        "/stages/reorder",
		Summary:     "Assign positions to stages",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.ReorderStagesRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := st.reorderStages(p, input.Body.StageOrders); err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"message": "Stages reordered successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stage",
		Method:      http.MethodPut,
		Path:        "/stages/{id}",
		Summary:     "Update stage settings",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                     `path:"id"`
		Body domain.UpdateStageRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stage, err := st.updateStage(p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"stage": stage, "message": "Stage updated successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-stage",
		Method:      http.MethodDelete,
		Path:        "/stages/{id}",
		Summary:     "Delete stage with its tasks",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := st.deleteStage(p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"message": "Stage deleted successfully"})
	})
}

func registerTasks(api huma.API, st *state) {
	huma.Register(api, huma.Operation{
		OperationID: "list-project-tasks",
		Method:      http.MethodGet,
		Path:        "/project-tasks/{projectId}",
		Summary:     "List the tasks of a project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *projectPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := st.taskList(p, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"tasks": tasks, "total": len(tasks)})
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.CreateTaskRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := st.createTask(p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"task": task, "message": "Task created successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/reorder",
		Summary:     "Assign positions to tasks",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.ReorderTasksRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := st.reorderTasks(p, input.Body.TaskOrders); err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"message": "Tasks reordered successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                    `path:"id"`
		Body domain.UpdateTaskRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := st.updateTask(p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"task": task, "message": "Task updated successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := st.deleteTask(p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"message": "Task deleted successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/move",
		Summary:     "Move task to a stage and position",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body domain.MoveTaskRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := st.moveDelay(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, newAPIError(http.StatusServiceUnavailable, "request cancelled")
			}
		}
		task, err := st.moveTask(p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"task": task, "message": "Task moved successfully"})
	})
}

func registerComments(api huma.API, st *state) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-comments",
		Method:      http.MethodGet,
		Path:        "/task-comments/{taskId}",
		Summary:     "List the comments of a task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *taskPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := st.commentTree(p, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"task_id": input.TaskID, "comments": comments, "total": len(comments)})
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task-comment",
		Method:      http.MethodPost,
		Path:        "/task-comments/{taskId}",
		Summary:     "Comment on a task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID int64                       `path:"taskId"`
		Body   domain.CreateCommentRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comment, err := st.createComment(p, input.TaskID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"comment": comment, "message": "Comment created successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPut,
		Path:        "/comments/{id}",
		Summary:     "Edit own comment",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                       `path:"id"`
		Body domain.UpdateCommentRequest `json:"body"`
	}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comment, err := st.updateComment(p, input.ID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"comment": comment, "message": "Comment updated successfully"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-comment",
		Method:      http.MethodDelete,
		Path:        "/comments/{id}",
		Summary:     "Delete comment and its replies",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := st.deleteComment(p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"message": "Comment deleted successfully"})
	})
}

func registerAnalytics(api huma.API, st *state) {
	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/analytics/project-stats/{projectId}",
		Summary:     "Task counts of a project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *projectPath) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := st.projectStats(p, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(stats)
	})
}
