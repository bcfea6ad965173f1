package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stageboard/internal/bus"
	"stageboard/internal/domain"
)

// fakeAPI keeps one project's stages and tasks in memory.
type fakeAPI struct {
	mu      sync.Mutex
	stages  []domain.Stage
	tasks   map[int64]domain.Task
	nextID  int64
	loadErr error
	moveErr error
	created int
}

func newFakeAPI(stages []domain.Stage, tasks ...domain.Task) *fakeAPI {
	api := &fakeAPI{stages: stages, tasks: map[int64]domain.Task{}, nextID: 100}
	for _, t := range tasks {
		api.tasks[t.ID] = t
	}
	return api
}

func (a *fakeAPI) Stages(context.Context, int64) ([]domain.Stage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	return append([]domain.Stage(nil), a.stages...), nil
}

func (a *fakeAPI) Tasks(context.Context, int64) ([]domain.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	out := make([]domain.Task, 0, len(a.tasks))
	for _, t := range a.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (a *fakeAPI) CreateTask(_ context.Context, req domain.CreateTaskRequest) (domain.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.created++
	t := domain.Task{ID: a.nextID, StageID: req.StageID, ProjectID: req.ProjectID, Title: req.Title, Status: domain.StatusTodo, Priority: domain.DefaultPriority}
	a.tasks[t.ID] = t
	return t, nil
}

func (a *fakeAPI) UpdateTask(_ context.Context, id int64, req domain.UpdateTaskRequest) (domain.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return domain.Task{}, errors.New("not found")
	}
	if req.Title != "" {
		t.Title = req.Title
	}
	if req.Status != "" {
		t.Status = req.Status
	}
	a.tasks[id] = t
	return t, nil
}

func (a *fakeAPI) DeleteTask(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tasks, id)
	return nil
}

func (a *fakeAPI) MoveTask(_ context.Context, id int64, req domain.MoveTaskRequest) (domain.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moveErr != nil {
		return domain.Task{}, a.moveErr
	}
	t := a.tasks[id]
	t.StageID = req.NewStageID
	t.Position = req.NewPosition
	a.tasks[id] = t
	return t, nil
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func openTestView(t *testing.T, api *fakeAPI, b *bus.Bus) *View {
	t.Helper()
	v, err := Open(context.Background(), api, 1, Options{Bus: b, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(v.Close)
	return v
}

func nextEvent(t *testing.T, ch <-chan bus.Event, kind bus.Kind) bus.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestOpenLoadsBoardAndPublishesCounts(t *testing.T) {
	due := fixedNow.Add(-time.Hour)
	late := task(2, 20, 0)
	late.DueDate = &due
	api := newFakeAPI([]domain.Stage{stage(20, 1), stage(10, 0)}, task(1, 10, 0), late)
	b := bus.New()
	events := b.Subscribe()
	v := openTestView(t, api, b)

	if e := nextEvent(t, events, bus.TaskCountChanged); e.Count != 2 || e.ProjectID != 1 {
		t.Fatalf("unexpected count event %+v", e)
	}
	if e := nextEvent(t, events, bus.OverdueStatusChanged); !e.HasOverdue {
		t.Fatalf("expected overdue, got %+v", e)
	}
	cols := v.Columns(Filter{})
	if len(cols) != 2 || cols[0].Stage.ID != 10 || cols[1].Stage.ID != 20 {
		t.Fatalf("unexpected columns %+v", cols)
	}
	if len(cols[1].Tasks) != 1 || cols[1].Tasks[0].ID != 2 {
		t.Fatalf("unexpected stage 20 tasks %+v", cols[1].Tasks)
	}
}

func TestOpenFailsWhenLoadFails(t *testing.T) {
	api := newFakeAPI(nil)
	api.loadErr = errors.New("boom")
	if _, err := Open(context.Background(), api, 1, Options{}); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestViewTaskLifecycle(t *testing.T) {
	api := newFakeAPI([]domain.Stage{stage(10, 0)})
	b := bus.New()
	events := b.Subscribe()
	v := openTestView(t, api, b)
	nextEvent(t, events, bus.TaskCountChanged)

	created, err := v.CreateTask(context.Background(), domain.CreateTaskRequest{StageID: 10, Title: "write docs"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ProjectID != 1 {
		t.Fatalf("project id not set: %+v", created)
	}
	if e := nextEvent(t, events, bus.TaskCountChanged); e.Count != 1 {
		t.Fatalf("unexpected count %+v", e)
	}

	if _, err := v.UpdateTask(context.Background(), created.ID, domain.UpdateTaskRequest{Status: domain.StatusDone}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if cols := v.Columns(Filter{}); len(cols[0].Tasks) != 0 || cols[0].Total != 1 {
		t.Fatalf("done task should be hidden: %+v", cols[0])
	}
	if cols := v.Columns(Filter{ShowDone: true}); len(cols[0].Tasks) != 1 {
		t.Fatalf("done task should be shown: %+v", cols[0])
	}

	if err := v.DeleteTask(context.Background(), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v.Store().Len() != 0 {
		t.Fatalf("task not removed")
	}
	if e := nextEvent(t, events, bus.TaskCountChanged); e.Count != 0 {
		t.Fatalf("unexpected count %+v", e)
	}
}

func TestViewHonoursStageFlags(t *testing.T) {
	locked := stage(10, 0)
	locked.AllowTaskCreation = false
	locked.AllowTaskDeletion = false
	limit := 1
	full := stage(20, 1)
	full.MaxTasks = &limit
	api := newFakeAPI([]domain.Stage{locked, full}, task(1, 10, 0), task(2, 20, 0))
	v := openTestView(t, api, nil)

	if _, err := v.CreateTask(context.Background(), domain.CreateTaskRequest{StageID: 10, Title: "x"}); !errors.Is(err, ErrCreationLocked) {
		t.Fatalf("expected ErrCreationLocked, got %v", err)
	}
	if _, err := v.CreateTask(context.Background(), domain.CreateTaskRequest{StageID: 20, Title: "x"}); !errors.Is(err, ErrStageFull) {
		t.Fatalf("expected ErrStageFull, got %v", err)
	}
	if _, err := v.CreateTask(context.Background(), domain.CreateTaskRequest{StageID: 99, Title: "x"}); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
	if err := v.DeleteTask(context.Background(), 1); !errors.Is(err, ErrDeletionLocked) {
		t.Fatalf("expected ErrDeletionLocked, got %v", err)
	}
	if api.created != 0 {
		t.Fatalf("blocked create reached the api")
	}
}

func TestViewMove(t *testing.T) {
	api := newFakeAPI([]domain.Stage{stage(10, 0), stage(20, 1)}, task(1, 10, 0), task(2, 10, 1))
	v := openTestView(t, api, nil)

	pm, err := v.Move(1, 20, -1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := waitMove(t, pm); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got, _ := v.Store().Task(1); got.StageID != 20 {
		t.Fatalf("unexpected task %+v", got)
	}
	if _, err := v.Move(2, 99, 0); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
	if v.Controller().Phase() != Idle {
		t.Fatalf("failed move left a gesture behind")
	}

	api.moveErr = errors.New("stage full")
	pm, err = v.Move(2, 20, 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := waitMove(t, pm); !errors.Is(err, ErrMoveFailed) {
		t.Fatalf("expected ErrMoveFailed, got %v", err)
	}
	if got, _ := v.Store().Task(2); got.StageID != 10 {
		t.Fatalf("rollback failed: %+v", got)
	}
}

func TestClosedViewRejectsWork(t *testing.T) {
	api := newFakeAPI([]domain.Stage{stage(10, 0)}, task(1, 10, 0))
	v := openTestView(t, api, nil)
	v.Close()
	v.Close()
	if err := v.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := v.CreateTask(context.Background(), domain.CreateTaskRequest{StageID: 10, Title: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := v.DeleteTask(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
