package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageboard/internal/app"
	"stageboard/internal/board"
	"stageboard/internal/bus"
	"stageboard/internal/config"
	"stageboard/internal/db"
	"stageboard/internal/domain"
	"stageboard/internal/gateway"
	"stageboard/internal/mockapi"
	"stageboard/internal/policy"
	"stageboard/internal/render"
	"stageboard/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "kb",
	Short: "Stageboard kanban client",
	Long: `kb works with kanban projects served by the board API.
- Project: a board owned by a user; members hold a role (owner, manager, collaborator).
- Stage: a column of the board with its own rules (task creation, deletion, movement, max tasks).
- Task: a card in one stage, ordered by position.
- Move: dragging a card to another stage or slot; the board updates at once and rolls back if the server refuses.
- Session: the token stored by 'kb login' in the .stageboard workspace; a 401 clears it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAGEBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("project", 0, "project id (overrides kb project use)")
	rootCmd.PersistentFlags().String("base-url", "", "API base URL (overrides the session and config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	for _, name := range []string{"workspace", "json", "project", "base-url", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(mockServerCmd())
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = readLine("Password: "); err != nil {
					return err
				}
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				s, err := ws.Login(ctx, viper.GetString("base-url"), email, password)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Logged in as %s (%s) at %s\n", s.User.Username, s.User.Email, s.BaseURL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func registerCmd() *cobra.Command {
	var req domain.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				u, err := ws.Client(ctx, viper.GetString("base-url")).Register(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "username")
	cmd.Flags().StringVar(&req.Email, "email", "", "email")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (at least 6 characters)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Repo.ClearSession(ctx); err != nil {
					return err
				}
				fmt.Println("Logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user and their permissions in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				client := ws.Client(ctx, viper.GetString("base-url"))
				user, err := client.Me(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{"user": user}
				if tok, _ := ws.Repo.Token(ctx); tok != "" {
					if claims, err := gateway.TokenClaims(tok); err == nil && !claims.ExpiresAt.IsZero() {
						out["expires_at"] = claims.ExpiresAt
					}
				}
				if projectID, err := ws.ResolveProject(ctx, viper.GetInt64("project")); err == nil {
					project, err := client.Project(ctx, projectID)
					if err != nil {
						return err
					}
					who, err := ws.Principal(ctx, project)
					if err != nil {
						return err
					}
					out["project_id"] = project.ID
					out["project_role"] = project.UserRole
					out["actions"] = ws.Policy().Granted(who)
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectStatsCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects you can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				projects, err := ws.Client(ctx, viper.GetString("base-url")).Projects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				current, _ := ws.Repo.CurrentProject(ctx)
				render.Projects(os.Stdout, projects, current)
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				projectID, err := projectArg(ctx, ws, args)
				if err != nil {
					return err
				}
				p, err := ws.Client(ctx, viper.GetString("base-url")).Project(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var req domain.CreateProjectRequest
	var use bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Client(ctx, viper.GetString("base-url")).CreateProject(ctx, req)
				if err != nil {
					return err
				}
				if use {
					if err := ws.Repo.SetCurrentProject(ctx, p.ID); err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "project name")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().BoolVar(&use, "use", false, "make it the current project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var req domain.UpdateProjectRequest
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			return withProject(cmd.Context(), args, policy.ActionEditProject, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				p, err := client.UpdateProject(ctx, project.ID, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "new name")
	cmd.Flags().StringVar(&req.Description, "description", "", "new description")
	cmd.Flags().StringVar(&req.Status, "status", "", "active or archived")
	cmd.Flags().StringVar(&req.EndDate, "end-date", "", "end date (YYYY-MM-DD)")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its stages, tasks and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), args, policy.ActionDeleteProject, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				if err := client.DeleteProject(ctx, project.ID); err != nil {
					return err
				}
				if current, err := ws.Repo.CurrentProject(ctx); err == nil && current == project.ID {
					if err := ws.Repo.DeletePreference(ctx, repo.PrefCurrentProject); err != nil {
						return err
					}
				}
				fmt.Printf("Deleted project %d\n", project.ID)
				return nil
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Client(ctx, viper.GetString("base-url")).Project(ctx, projectID)
				if err != nil {
					return err
				}
				if err := ws.Repo.SetCurrentProject(ctx, p.ID); err != nil {
					return err
				}
				fmt.Printf("Using project %d (%s)\n", p.ID, p.Name)
				return nil
			})
		},
	}
}

func projectStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [id]",
		Short: "Show task statistics of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				projectID, err := projectArg(ctx, ws, args)
				if err != nil {
					return err
				}
				stats, err := ws.Client(ctx, viper.GetString("base-url")).ProjectStats(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				render.Stats(os.Stdout, stats)
				return nil
			})
		},
	}
}

func stageCmd() *cobra.Command {
	stg := &cobra.Command{Use: "stage", Short: "Manage the stages of the current project"}
	stg.AddCommand(stageListCmd())
	stg.AddCommand(stageCreateCmd())
	stg.AddCommand(stageUpdateCmd())
	stg.AddCommand(stageDeleteCmd())
	stg.AddCommand(stageReorderCmd())
	return stg
}

func stageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				projectID, err := ws.ResolveProject(ctx, viper.GetInt64("project"))
				if err != nil {
					return err
				}
				stages, err := ws.Client(ctx, viper.GetString("base-url")).Stages(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stages)
				}
				render.Stages(os.Stdout, stages)
				return nil
			})
		},
	}
}

func stageCreateCmd() *cobra.Command {
	var req domain.CreateStageRequest
	var limit int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Append a stage to the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("limit") {
				req.TaskLimit = &limit
			}
			return withProject(cmd.Context(), nil, policy.ActionManageStages, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				req.ProjectID = project.ID
				if err := req.Validate(); err != nil {
					return err
				}
				st, err := client.CreateStage(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "stage name")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.Color, "color", "", "hex color, e.g. #3B82F6")
	cmd.Flags().IntVar(&limit, "limit", 0, "task limit")
	cmd.Flags().StringVar(&req.AutoAssignStatus, "auto-status", "", "status given to tasks created here")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stageUpdateCmd() *cobra.Command {
	var name, description, color, autoStatus string
	var maxTasks, position int
	var allowCreate, allowDelete, allowMove, completed bool
	cmd := &cobra.Command{
		Use:   "update <stage-id>",
		Short: "Change a stage and its task rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseID(args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			req := domain.UpdateStageRequest{Name: name, Description: description, Color: color}
			if flags.Changed("max-tasks") {
				req.MaxTasks = &maxTasks
			}
			if flags.Changed("position") {
				req.Position = &position
			}
			if flags.Changed("allow-create") {
				req.AllowTaskCreation = &allowCreate
			}
			if flags.Changed("allow-delete") {
				req.AllowTaskDeletion = &allowDelete
			}
			if flags.Changed("allow-move") {
				req.AllowTaskMovement = &allowMove
			}
			if flags.Changed("completed") {
				req.IsCompleted = &completed
			}
			if flags.Changed("auto-status") {
				req.AutoAssignStatus = &autoStatus
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return withProject(cmd.Context(), nil, policy.ActionManageStages, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				st, err := client.UpdateStage(ctx, stageID, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&color, "color", "", "new color")
	cmd.Flags().IntVar(&maxTasks, "max-tasks", 0, "maximum tasks in the stage (0 removes the cap)")
	cmd.Flags().IntVar(&position, "position", 0, "stage position")
	cmd.Flags().BoolVar(&allowCreate, "allow-create", true, "allow creating tasks here")
	cmd.Flags().BoolVar(&allowDelete, "allow-delete", true, "allow deleting tasks here")
	cmd.Flags().BoolVar(&allowMove, "allow-move", true, "allow moving tasks into this stage")
	cmd.Flags().BoolVar(&completed, "completed", false, "mark the stage completed")
	cmd.Flags().StringVar(&autoStatus, "auto-status", "", "status given to tasks created here")
	return cmd
}

func stageDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <stage-id>",
		Short: "Delete a stage and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), nil, policy.ActionManageStages, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				if err := client.DeleteStage(ctx, stageID); err != nil {
					return err
				}
				fmt.Printf("Deleted stage %d\n", stageID)
				return nil
			})
		},
	}
}

func stageReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <stage-id>...",
		Short: "Set stage order; stages are numbered in the order given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			orders := make([]domain.StageOrder, len(ids))
			for i, id := range ids {
				orders[i] = domain.StageOrder{StageID: id, Position: i}
			}
			return withProject(cmd.Context(), nil, policy.ActionManageStages, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				if err := client.ReorderStages(ctx, orders); err != nil {
					return err
				}
				fmt.Println("Stages reordered")
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage the tasks of the current project"}
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskUpdateCmd())
	tsk.AddCommand(taskDeleteCmd())
	tsk.AddCommand(taskMoveCmd())
	tsk.AddCommand(taskReorderCmd())
	tsk.AddCommand(taskHistoryCmd())
	return tsk
}

func taskListCmd() *cobra.Command {
	var f board.Filter
	var assignee int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("assignee") {
				f.AssigneeID = &assignee
			}
			return withBoard(cmd.Context(), func(ctx context.Context, ws *app.Workspace, view *board.View) error {
				var tasks []domain.Task
				for _, col := range view.Columns(f) {
					tasks = append(tasks, col.Tasks...)
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				render.Tasks(os.Stdout, tasks, view.Store().Stages(), time.Now())
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f, &assignee)
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var req domain.CreateTaskRequest
	var assignee int64
	var hours float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in a stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("assignee") {
				req.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("hours") {
				req.EstimatedHours = &hours
			}
			return withBoard(cmd.Context(), func(ctx context.Context, ws *app.Workspace, view *board.View) error {
				t, err := view.CreateTask(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&req.StageID, "stage", 0, "stage id")
	cmd.Flags().StringVar(&req.Title, "title", "", "title")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "P1..P4 (default P2)")
	cmd.Flags().StringVar(&req.Status, "status", "", "todo, in_progress or done")
	cmd.Flags().StringVar(&req.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var req domain.UpdateTaskRequest
	var assignee int64
	var hours float64
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("assignee") {
				req.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("hours") {
				req.EstimatedHours = &hours
			}
			return withBoard(cmd.Context(), func(ctx context.Context, ws *app.Workspace, view *board.View) error {
				t, err := view.UpdateTask(ctx, taskID, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "new title")
	cmd.Flags().StringVar(&req.Description, "description", "", "new description")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "P1..P4")
	cmd.Flags().StringVar(&req.Status, "status", "", "todo, in_progress or done")
	cmd.Flags().StringVar(&req.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withBoard(cmd.Context(), func(ctx context.Context, ws *app.Workspace, view *board.View) error {
				if err := view.DeleteTask(ctx, taskID); err != nil {
					return err
				}
				fmt.Printf("Deleted task %d\n", taskID)
				return nil
			})
		},
	}
}

func taskMoveCmd() *cobra.Command {
	var stageID int64
	var position int
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a task to a stage, optionally at a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("position") {
				position = -1
			}
			return withBoard(cmd.Context(), func(ctx context.Context, ws *app.Workspace, view *board.View) error {
				events := ws.Bus.Subscribe()
				defer ws.Bus.Unsubscribe(events)
				pm, err := view.Move(taskID, stageID, position)
				if err != nil {
					return err
				}
				if pm == nil {
					fmt.Println("Task already there")
					return nil
				}
				wctx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				task, err := pm.Wait(wctx)
				if err != nil {
					return err
				}
				drainEvents(events)
				return printJSONOrTable(task)
			})
		},
	}
	cmd.Flags().Int64Var(&stageID, "to", 0, "target stage id")
	cmd.Flags().IntVar(&position, "position", 0, "position in the target stage (appends when omitted)")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the server to confirm")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <task-id>...",
		Short: "Set task order inside their stages; tasks are numbered in the order given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			orders := make([]domain.TaskOrder, len(ids))
			for i, id := range ids {
				orders[i] = domain.TaskOrder{TaskID: id, Position: i}
			}
			return withProject(cmd.Context(), nil, policy.ActionManageTasks, func(ctx context.Context, ws *app.Workspace, client *gateway.Client, project domain.Project) error {
				if err := client.ReorderTasks(ctx, orders); err != nil {
					return err
				}
				fmt.Println("Tasks reordered")
				return nil
			})
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show moves made from this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				projectID, err := ws.ResolveProject(ctx, viper.GetInt64("project"))
				if err != nil {
					return err
				}
				moves, err := ws.Repo.MoveHistory(ctx, projectID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(moves)
				}
				render.Moves(os.Stdout, moves)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return cmd
}

func boardCmd() *cobra.Command {
	var f board.Filter
	var assignee int64
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the board of the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("assignee") {
				f.AssigneeID = &assignee
			}
			return withBoard(cmd.Context(), func(ctx context.Context, ws *app.Workspace, view *board.View) error {
				if !cmd.Flags().Changed("show-done") {
					f.ShowDone = ws.Config.Board.ShowDone
				}
				cols := view.Columns(f)
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				return render.Board(os.Stdout, cols, time.Now())
			})
		},
	}
	addFilterFlags(cmd, &f, &assignee)
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *board.Filter, assignee *int64) {
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "match title or description")
	cmd.Flags().Int64Var(assignee, "assignee", 0, "assignee user id")
	cmd.Flags().BoolVar(&f.ShowDone, "show-done", false, "include done tasks")
}

func commentCmd() *cobra.Command {
	cmt := &cobra.Command{Use: "comment", Short: "Discuss tasks"}
	cmt.AddCommand(commentListCmd())
	cmt.AddCommand(commentAddCmd())
	cmt.AddCommand(commentEditCmd())
	cmt.AddCommand(commentDeleteCmd())
	return cmt
}

func commentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "Show the comment thread of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				comments, err := ws.Client(ctx, viper.GetString("base-url")).Comments(ctx, taskID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(comments)
				}
				render.Comments(os.Stdout, comments)
				return nil
			})
		},
	}
}

func commentAddCmd() *cobra.Command {
	var req domain.CreateCommentRequest
	var replyTo int64
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			req.TaskID = taskID
			if cmd.Flags().Changed("reply-to") {
				req.ReplyToID = &replyTo
				req.ParentCommentID = &replyTo
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				c, err := ws.Client(ctx, viper.GetString("base-url")).CreateComment(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&req.Content, "content", "", "comment text")
	cmd.Flags().Int64Var(&replyTo, "reply-to", 0, "comment id to reply to")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func commentEditCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "edit <comment-id>",
		Short: "Edit your comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commentID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				c, err := ws.Client(ctx, viper.GetString("base-url")).UpdateComment(ctx, commentID, content)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "new text")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func commentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete your comment and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commentID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Client(ctx, viper.GetString("base-url")).DeleteComment(ctx, commentID); err != nil {
					return err
				}
				fmt.Printf("Deleted comment %d\n", commentID)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "stageboard.yml holds the API address, request timeout, log level, board defaults, the role permission table and the mock server settings.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default stageboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stageboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func mockServerCmd() *cobra.Command {
	var addr, basePath string
	var failMoves int
	var moveDelay time.Duration
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve an in-memory board API for local use and tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Mock.Addr
			}
			secret := os.Getenv("STAGEBOARD_JWT_SECRET")
			if secret == "" {
				secret = cfg.Mock.JWTSecret
			}
			mock, err := mockapi.New(mockapi.Config{
				BasePath:      basePath,
				JWTSecret:     secret,
				AdminEmail:    cfg.Mock.AdminEmail,
				AdminPassword: cfg.Mock.AdminPassword,
				Seed:          cfg.Mock.Seed,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			mock.FailMoves(failMoves)
			mock.DelayMoves(moveDelay)
			srv := &http.Server{Addr: addr, Handler: mock}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving mock board API on http://%s%s (admin %s)\n", addr, basePath, cfg.Mock.AdminEmail)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().IntVar(&failMoves, "fail-moves", 0, "reject the next n task moves with 500")
	cmd.Flags().DurationVar(&moveDelay, "move-delay", 0, "delay every task move")
	return cmd
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	level := viper.GetString("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	return app.NewLogger(level, os.Stderr)
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, workspace, logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// withProject resolves the project from args or the workspace and checks
// action against the caller's role before running fn.
func withProject(ctx context.Context, args []string, action string, fn func(context.Context, *app.Workspace, *gateway.Client, domain.Project) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		projectID, err := projectArg(ctx, ws, args)
		if err != nil {
			return err
		}
		client := ws.Client(ctx, viper.GetString("base-url"))
		project, err := client.Project(ctx, projectID)
		if err != nil {
			return err
		}
		who, err := ws.Principal(ctx, project)
		if err != nil {
			return err
		}
		if err := ws.Policy().Require(who, action); err != nil {
			return err
		}
		return fn(ctx, ws, client, project)
	})
}

func withBoard(ctx context.Context, fn func(context.Context, *app.Workspace, *board.View) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		projectID, err := ws.ResolveProject(ctx, viper.GetInt64("project"))
		if err != nil {
			return err
		}
		view, _, err := ws.OpenBoard(ctx, ws.Client(ctx, viper.GetString("base-url")), projectID)
		if err != nil {
			return err
		}
		defer view.Close()
		return fn(ctx, ws, view)
	})
}

func projectArg(ctx context.Context, ws *app.Workspace, args []string) (int64, error) {
	if len(args) > 0 {
		return parseID(args[0])
	}
	return ws.ResolveProject(ctx, viper.GetInt64("project"))
}

// drainEvents prints the notifications a command produced.
func drainEvents(events chan bus.Event) {
	if viper.GetBool("json") {
		return
	}
	for {
		select {
		case e := <-events:
			switch e.Kind {
			case bus.TaskMoved:
				fmt.Fprintf(os.Stderr, "task %d moved to stage %d\n", e.TaskID, e.StageID)
			case bus.OverdueStatusChanged:
				if e.HasOverdue {
					fmt.Fprintln(os.Stderr, "project has overdue tasks")
				}
			}
		default:
			return
		}
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range sortedKeys(fields) {
		val := fields[k]
		if nested, ok := val.(map[string]any); ok {
			nb, _ := json.Marshal(nested)
			val = string(nb)
		}
		tw.AppendRow(table.Row{k, val})
	}
	tw.Render()
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
