package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stageboard/internal/bus"
	"stageboard/internal/domain"
	"stageboard/internal/policy"
)

var (
	ErrCreationLocked = errors.New("stage does not allow task creation")
	ErrDeletionLocked = errors.New("stage does not allow task deletion")
	ErrStageFull      = errors.New("stage reached its task limit")
)

// API is the part of the gateway a board view needs.
type API interface {
	Mover
	Stages(ctx context.Context, projectID int64) ([]domain.Stage, error)
	Tasks(ctx context.Context, projectID int64) ([]domain.Task, error)
	CreateTask(ctx context.Context, req domain.CreateTaskRequest) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, req domain.UpdateTaskRequest) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type Options struct {
	Policy    *policy.Policy
	Principal *policy.Principal
	Bus       *bus.Bus
	Journal   Journal
	Logger    *log.Logger
	Now       func() time.Time
}

// View is one open project board. Closing it cancels in-flight move
// confirmations and freezes the Store.
type View struct {
	projectID int64
	api       API
	opts      Options
	pol       policy.Policy
	store     *Store
	ctrl      *Controller
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Open fetches the project's stages and tasks and returns the live view.
func Open(ctx context.Context, api API, projectID int64, opts Options) (*View, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pol := policy.Default()
	if opts.Policy != nil {
		pol = *opts.Policy
	}
	if opts.Principal == nil {
		opts.Principal = &policy.Principal{}
	}
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &View{
		projectID: projectID,
		api:       api,
		opts:      opts,
		pol:       pol,
		store:     NewStore(),
		cancel:    cancel,
	}
	v.ctrl = NewController(lifetime, v.store, api, ControllerOptions{
		ProjectID: projectID,
		Policy:    &pol,
		Principal: opts.Principal,
		Bus:       opts.Bus,
		Journal:   opts.Journal,
		Logger:    opts.Logger,
	})
	if err := v.Refresh(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *View) ProjectID() int64        { return v.projectID }
func (v *View) Store() *Store           { return v.store }
func (v *View) Controller() *Controller { return v.ctrl }

// Refresh refetches stages and tasks and replaces the Store content.
func (v *View) Refresh(ctx context.Context) error {
	if v.store.Closed() {
		return ErrClosed
	}
	var stages []domain.Stage
	var tasks []domain.Task
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stages, err = v.api.Stages(gctx, v.projectID)
		if err != nil {
			return fmt.Errorf("load stages: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tasks, err = v.api.Tasks(gctx, v.projectID)
		if err != nil {
			return fmt.Errorf("load tasks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	v.store.ReplaceStages(stages)
	v.store.ReplaceAll(tasks)
	v.opts.Logger.WithFields(log.Fields{"project_id": v.projectID, "stages": len(stages), "tasks": len(tasks)}).Debug("board loaded")
	v.publishCounts()
	return nil
}

// Columns renders the current Store through f.
func (v *View) Columns(f Filter) []Column {
	return Columns(v.store.Stages(), v.store.Tasks(), f)
}

func (v *View) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (domain.Task, error) {
	if v.store.Closed() {
		return domain.Task{}, ErrClosed
	}
	if err := v.pol.Require(v.opts.Principal, policy.ActionManageTasks); err != nil {
		return domain.Task{}, err
	}
	req.ProjectID = v.projectID
	st, ok := v.store.Stage(req.StageID)
	if !ok {
		return domain.Task{}, ErrUnknownStage
	}
	if !st.AllowTaskCreation {
		return domain.Task{}, ErrCreationLocked
	}
	if limit := st.Limit(); limit > 0 && len(v.store.InStage(st.ID)) >= limit {
		return domain.Task{}, ErrStageFull
	}
	task, err := v.api.CreateTask(ctx, req)
	if err != nil {
		return task, err
	}
	v.store.UpsertOne(task)
	v.publishCounts()
	return task, nil
}

func (v *View) UpdateTask(ctx context.Context, id int64, req domain.UpdateTaskRequest) (domain.Task, error) {
	if v.store.Closed() {
		return domain.Task{}, ErrClosed
	}
	if err := v.pol.Require(v.opts.Principal, policy.ActionManageTasks); err != nil {
		return domain.Task{}, err
	}
	if _, ok := v.store.Task(id); !ok {
		return domain.Task{}, ErrUnknownTask
	}
	task, err := v.api.UpdateTask(ctx, id, req)
	if err != nil {
		return task, err
	}
	v.store.UpsertOne(task)
	v.publishCounts()
	return task, nil
}

func (v *View) DeleteTask(ctx context.Context, id int64) error {
	if v.store.Closed() {
		return ErrClosed
	}
	if err := v.pol.Require(v.opts.Principal, policy.ActionManageTasks); err != nil {
		return err
	}
	task, ok := v.store.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	if st, ok := v.store.Stage(task.StageID); ok && !st.AllowTaskDeletion {
		return ErrDeletionLocked
	}
	if err := v.api.DeleteTask(ctx, id); err != nil {
		return err
	}
	v.store.RemoveOne(id)
	v.publishCounts()
	return nil
}

// Move drags a task to stageID and drops it at index, or at the end when
// index is negative.
func (v *View) Move(taskID, stageID int64, index int) (*PendingMove, error) {
	if err := v.ctrl.Begin(taskID); err != nil {
		return nil, err
	}
	if err := v.ctrl.Hover(stageID); err != nil {
		v.ctrl.Cancel()
		return nil, err
	}
	if v.ctrl.Hovered() == 0 {
		v.ctrl.Cancel()
		return nil, ErrUnknownStage
	}
	if index < 0 {
		return v.ctrl.Drop()
	}
	return v.ctrl.DropAt(index)
}

func (v *View) publishCounts() {
	tasks := v.store.Tasks()
	now := v.opts.Now()
	overdue := false
	for _, t := range tasks {
		if t.Overdue(now) {
			overdue = true
			break
		}
	}
	v.opts.Bus.Publish(bus.Event{Kind: bus.TaskCountChanged, ProjectID: v.projectID, Count: len(tasks)})
	v.opts.Bus.Publish(bus.Event{Kind: bus.OverdueStatusChanged, ProjectID: v.projectID, HasOverdue: overdue})
}

// Close freezes the Store, cancels in-flight confirmations and waits for
// them to return.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.store.Close()
		v.cancel()
		v.ctrl.Wait()
	})
}
