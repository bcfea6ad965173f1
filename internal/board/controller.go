package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"stageboard/internal/bus"
	"stageboard/internal/domain"
	"stageboard/internal/policy"
)

var (
	ErrGestureActive  = errors.New("a drag gesture is already active")
	ErrNoGesture      = errors.New("no drag gesture in progress")
	ErrMovementLocked = errors.New("stage does not allow task movement")
	// ErrMoveFailed is what the user sees when a move did not persist.
	ErrMoveFailed = errors.New("move failed, please refresh")
)

// Mover confirms a move with the server.
type Mover interface {
	MoveTask(ctx context.Context, id int64, req domain.MoveTaskRequest) (domain.Task, error)
}

// Journal records move outcomes.
type Journal interface {
	RecordMove(ctx context.Context, rec domain.MoveRecord) error
}

type Phase int

const (
	Idle Phase = iota
	Dragging
	Dropped
)

func (p Phase) String() string {
	switch p {
	case Dragging:
		return "dragging"
	case Dropped:
		return "dropped"
	default:
		return "idle"
	}
}

type gesture struct {
	taskID      int64
	source      int64
	sourceIndex int
	dest        int64
}

// ControllerOptions wires a Controller. Zero values are usable except Store
// and Mover.
type ControllerOptions struct {
	ProjectID int64
	Policy    *policy.Policy
	Principal *policy.Principal
	Bus       *bus.Bus
	Journal   Journal
	Logger    *log.Logger
}

// Controller runs one drag gesture at a time. A drop applies the move to the
// Store synchronously and confirms it on a goroutine bound to ctx.
type Controller struct {
	store *Store
	mover Mover
	opts  ControllerOptions
	pol   policy.Policy
	ctx   context.Context
	wg    sync.WaitGroup

	mu    sync.Mutex
	phase Phase
	g     gesture
}

func NewController(ctx context.Context, store *Store, mover Mover, opts ControllerOptions) *Controller {
	pol := policy.Default()
	if opts.Policy != nil {
		pol = *opts.Policy
	}
	if opts.Principal == nil {
		opts.Principal = &policy.Principal{}
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Controller{store: store, mover: mover, opts: opts, pol: pol, ctx: ctx}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Hovered returns the stage under the pointer, or 0.
func (c *Controller) Hovered() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Dragging {
		return 0
	}
	return c.g.dest
}

// Begin picks up a task.
func (c *Controller) Begin(taskID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Idle {
		return ErrGestureActive
	}
	if err := c.pol.Require(c.opts.Principal, policy.ActionManageTasks); err != nil {
		return err
	}
	task, ok := c.store.Task(taskID)
	if !ok {
		return ErrUnknownTask
	}
	if st, ok := c.store.Stage(task.StageID); ok && !st.AllowTaskMovement {
		return ErrMovementLocked
	}
	idx := 0
	for i, t := range c.store.InStage(task.StageID) {
		if t.ID == taskID {
			idx = i
			break
		}
	}
	c.phase = Dragging
	c.g = gesture{taskID: taskID, source: task.StageID, sourceIndex: idx}
	return nil
}

// Hover marks stageID as the drop target. An id that is not a stage of the
// board clears the target.
func (c *Controller) Hover(stageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Dragging {
		return ErrNoGesture
	}
	if _, ok := c.store.Stage(stageID); !ok {
		c.g.dest = 0
		return nil
	}
	c.g.dest = stageID
	return nil
}

// Leave clears the target if the pointer left it.
func (c *Controller) Leave(stageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == Dragging && c.g.dest == stageID {
		c.g.dest = 0
	}
}

// Cancel abandons the gesture without touching the Store.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = Idle
	c.g = gesture{}
}

// Drop releases the task at the end of the hovered stage. A nil PendingMove
// with a nil error means nothing changed and no request was sent.
func (c *Controller) Drop() (*PendingMove, error) {
	return c.drop(-1)
}

// DropAt releases the task at index of the hovered stage's list, counted
// without the dragged task.
func (c *Controller) DropAt(index int) (*PendingMove, error) {
	if index < 0 {
		index = 0
	}
	return c.drop(index)
}

func (c *Controller) drop(index int) (*PendingMove, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Dragging {
		return nil, ErrNoGesture
	}
	g := c.g
	c.phase = Dropped
	defer func() {
		c.phase = Idle
		c.g = gesture{}
	}()

	if g.dest == 0 {
		c.record(domain.MoveRecord{TaskID: g.taskID, FromStageID: g.source, Position: g.sourceIndex, Outcome: domain.MoveCancelled})
		return nil, nil
	}
	count := 0
	for _, t := range c.store.InStage(g.dest) {
		if t.ID != g.taskID {
			count++
		}
	}
	switch {
	case index < 0 && g.dest == g.source:
		return nil, nil
	case index < 0:
		index = count
	case index > count:
		index = count
	}
	if g.dest == g.source && index == g.sourceIndex {
		return nil, nil
	}

	move, err := c.store.MoveOptimistic(g.taskID, g.dest, index)
	if err != nil {
		return nil, err
	}
	if move.Noop() {
		return nil, nil
	}
	pm := &PendingMove{Move: move, done: make(chan struct{})}
	req := domain.MoveTaskRequest{NewStageID: g.dest, NewPosition: index}
	c.wg.Add(1)
	go c.commit(pm, req)
	return pm, nil
}

func (c *Controller) commit(pm *PendingMove, req domain.MoveTaskRequest) {
	defer c.wg.Done()
	defer close(pm.done)
	m := pm.Move
	logger := c.opts.Logger.WithFields(log.Fields{"task_id": m.TaskID, "from_stage": m.From.StageID, "to_stage": m.To.StageID, "position": req.NewPosition})

	task, err := c.mover.MoveTask(c.ctx, m.TaskID, req)
	if err != nil {
		pm.err = fmt.Errorf("%w: %w", ErrMoveFailed, err)
		if !c.store.Rollback(m) {
			logger.WithError(err).Debug("stale move failed; nothing to roll back")
			return
		}
		logger.WithError(err).Warn("move rolled back")
		c.opts.Bus.Publish(bus.Event{Kind: bus.MoveFailed, ProjectID: c.opts.ProjectID, TaskID: m.TaskID, StageID: m.From.StageID, Err: pm.err})
		c.record(domain.MoveRecord{TaskID: m.TaskID, FromStageID: m.From.StageID, ToStageID: m.To.StageID, Position: req.NewPosition, Outcome: domain.MoveRolledBack, Error: err.Error()})
		return
	}

	var applied bool
	if task.ID == m.TaskID {
		applied = c.store.Confirm(m, task)
	} else {
		if task.ID != 0 {
			logger.WithField("echoed_task_id", task.ID).Warn("move response carried another task; keeping local state")
		}
		applied = c.store.Settle(m)
	}
	pm.task, _ = c.store.Task(m.TaskID)
	if task.ID == m.TaskID {
		pm.task = task
	}
	if !applied {
		logger.Debug("stale move confirmation ignored")
		return
	}
	logger.Debug("move confirmed")
	c.opts.Bus.Publish(bus.Event{Kind: bus.TaskMoved, ProjectID: c.opts.ProjectID, TaskID: m.TaskID, StageID: pm.task.StageID})
	c.record(domain.MoveRecord{TaskID: m.TaskID, FromStageID: m.From.StageID, ToStageID: pm.task.StageID, Position: pm.task.Position, Outcome: domain.MoveConfirmed})
}

func (c *Controller) record(rec domain.MoveRecord) {
	if c.opts.Journal == nil {
		return
	}
	rec.ProjectID = c.opts.ProjectID
	if err := c.opts.Journal.RecordMove(context.WithoutCancel(c.ctx), rec); err != nil {
		c.opts.Logger.WithError(err).Warn("record move")
	}
}

// Wait blocks until every issued commit has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// PendingMove is the handle of a move whose confirmation is in flight.
type PendingMove struct {
	Move Move

	done chan struct{}
	task domain.Task
	err  error
}

func (p *PendingMove) Done() <-chan struct{} { return p.done }

// Wait returns the task as the server left it, or the error that caused the
// rollback.
func (p *PendingMove) Wait(ctx context.Context) (domain.Task, error) {
	select {
	case <-p.done:
		return p.task, p.err
	case <-ctx.Done():
		return domain.Task{}, ctx.Err()
	}
}
