package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stageboard/internal/bus"
	"stageboard/internal/domain"
	"stageboard/internal/policy"
)

type moveCall struct {
	TaskID int64
	Req    domain.MoveTaskRequest
	// Seen is the moved task as the Store held it when the request was sent.
	Seen domain.Task
}

// stubMover answers move requests through respond. When gate is set each
// call blocks until a value arrives on it or ctx is cancelled.
type stubMover struct {
	store   *Store
	respond func(id int64, req domain.MoveTaskRequest) (domain.Task, error)
	gate    chan struct{}

	mu    sync.Mutex
	calls []moveCall
}

func (m *stubMover) MoveTask(ctx context.Context, id int64, req domain.MoveTaskRequest) (domain.Task, error) {
	seen, _ := m.store.Task(id)
	m.mu.Lock()
	m.calls = append(m.calls, moveCall{TaskID: id, Req: req, Seen: seen})
	m.mu.Unlock()
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return domain.Task{}, ctx.Err()
		}
	}
	if m.respond == nil {
		return domain.Task{}, nil
	}
	return m.respond(id, req)
}

func (m *stubMover) Calls() []moveCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]moveCall(nil), m.calls...)
}

type recordingJournal struct {
	mu   sync.Mutex
	recs []domain.MoveRecord
}

func (j *recordingJournal) RecordMove(_ context.Context, rec domain.MoveRecord) error {
	j.mu.Lock()
	j.recs = append(j.recs, rec)
	j.mu.Unlock()
	return nil
}

func (j *recordingJournal) Outcomes() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, r := range j.recs {
		out = append(out, r.Outcome)
	}
	return out
}

type controllerEnv struct {
	store   *Store
	mover   *stubMover
	ctrl    *Controller
	events  chan bus.Event
	journal *recordingJournal
	cancel  context.CancelFunc
}

// newControllerEnv builds stage A(10) holding T1, T2 and an empty stage B(20).
func newControllerEnv(t *testing.T) controllerEnv {
	t.Helper()
	store := newTestStore([]domain.Stage{stage(10, 0), stage(20, 1)}, task(1, 10, 0), task(2, 10, 1))
	mover := &stubMover{store: store}
	b := bus.New()
	events := b.Subscribe()
	journal := &recordingJournal{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctrl := NewController(ctx, store, mover, ControllerOptions{ProjectID: 1, Bus: b, Journal: journal})
	return controllerEnv{store: store, mover: mover, ctrl: ctrl, events: events, journal: journal, cancel: cancel}
}

func waitMove(t *testing.T, pm *PendingMove) (domain.Task, error) {
	t.Helper()
	if pm == nil {
		t.Fatalf("expected a pending move")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := pm.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("move did not finish")
	}
	return task, err
}

func drag(t *testing.T, c *Controller, taskID, stageID int64) {
	t.Helper()
	if err := c.Begin(taskID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.Hover(stageID); err != nil {
		t.Fatalf("hover: %v", err)
	}
}

func TestDropConfirmedByServer(t *testing.T) {
	env := newControllerEnv(t)
	env.mover.respond = func(id int64, req domain.MoveTaskRequest) (domain.Task, error) {
		return task(id, req.NewStageID, req.NewPosition), nil
	}
	drag(t, env.ctrl, 1, 20)
	pm, err := env.ctrl.Drop()
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	snap := env.store.Snapshot()
	if !equalIDs(snap[10], []int64{2}) || !equalIDs(snap[20], []int64{1}) {
		t.Fatalf("optimistic state not applied at drop: %v", snap)
	}
	if env.ctrl.Phase() != Idle {
		t.Fatalf("expected idle after drop, got %s", env.ctrl.Phase())
	}
	got, err := waitMove(t, pm)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got.StageID != 20 || got.Position != 0 {
		t.Fatalf("unexpected server task %+v", got)
	}
	calls := env.mover.Calls()
	if len(calls) != 1 || calls[0].Req.NewStageID != 20 || calls[0].Req.NewPosition != 0 {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[0].Seen.StageID != 20 {
		t.Fatalf("request sent before the optimistic update: %+v", calls[0].Seen)
	}
	if after := env.store.Snapshot(); !after.Equal(snap) {
		t.Fatalf("confirmation changed the board: %v vs %v", after, snap)
	}
	if env.store.Pending(1) {
		t.Fatalf("move still pending")
	}
	if out := env.journal.Outcomes(); len(out) != 1 || out[0] != domain.MoveConfirmed {
		t.Fatalf("unexpected journal %v", out)
	}
}

func TestDropRolledBackOnFailure(t *testing.T) {
	env := newControllerEnv(t)
	before := env.store.Snapshot()
	cause := errors.New("api error: status=500")
	env.mover.respond = func(int64, domain.MoveTaskRequest) (domain.Task, error) { return domain.Task{}, cause }
	drag(t, env.ctrl, 1, 20)
	pm, err := env.ctrl.Drop()
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err = waitMove(t, pm)
	if !errors.Is(err, ErrMoveFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected move failure wrapping cause, got %v", err)
	}
	after := env.store.Snapshot()
	if !after.Equal(before) {
		t.Fatalf("rollback mismatch: before %v after %v", before, after)
	}
	if !equalIDs(after[10], []int64{1, 2}) || len(after[20]) != 0 {
		t.Fatalf("unexpected final state %v", after)
	}
	select {
	case e := <-env.events:
		if e.Kind != bus.MoveFailed || e.TaskID != 1 || !errors.Is(e.Err, ErrMoveFailed) {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no move_failed event")
	}
	if out := env.journal.Outcomes(); len(out) != 1 || out[0] != domain.MoveRolledBack {
		t.Fatalf("unexpected journal %v", out)
	}
}

func TestServerPositionWins(t *testing.T) {
	env := newControllerEnv(t)
	env.store.UpsertOne(task(3, 20, 0))
	env.mover.respond = func(id int64, req domain.MoveTaskRequest) (domain.Task, error) {
		return task(id, req.NewStageID, 7), nil
	}
	drag(t, env.ctrl, 1, 20)
	pm, err := env.ctrl.Drop()
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := waitMove(t, pm); err != nil {
		t.Fatalf("move: %v", err)
	}
	if calls := env.mover.Calls(); calls[0].Req.NewPosition != 1 {
		t.Fatalf("expected append at 1, got %d", calls[0].Req.NewPosition)
	}
	got, _ := env.store.Task(1)
	if got.Position != 7 || got.StageID != 20 {
		t.Fatalf("server position not applied: %+v", got)
	}
}

func TestSameSlotDropIsNoop(t *testing.T) {
	env := newControllerEnv(t)
	before := env.store.Snapshot()
	drag(t, env.ctrl, 2, 10)
	pm, err := env.ctrl.DropAt(1)
	if err != nil || pm != nil {
		t.Fatalf("expected silent no-op, got %v %v", pm, err)
	}
	drag(t, env.ctrl, 1, 10)
	if pm, err := env.ctrl.Drop(); err != nil || pm != nil {
		t.Fatalf("same-stage append must be a no-op, got %v %v", pm, err)
	}
	if len(env.mover.Calls()) != 0 {
		t.Fatalf("no-op issued a request")
	}
	if !env.store.Snapshot().Equal(before) {
		t.Fatalf("no-op changed the board")
	}
}

func TestSameStageReorderIsSent(t *testing.T) {
	env := newControllerEnv(t)
	drag(t, env.ctrl, 2, 10)
	pm, err := env.ctrl.DropAt(0)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := env.store.Snapshot()[10]; !equalIDs(got, []int64{2, 1}) {
		t.Fatalf("unexpected order %v", got)
	}
	if _, err := waitMove(t, pm); err != nil {
		t.Fatalf("move: %v", err)
	}
	if calls := env.mover.Calls(); len(calls) != 1 || calls[0].Req.NewStageID != 10 || calls[0].Req.NewPosition != 0 {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestDropOutsideStagesCancels(t *testing.T) {
	env := newControllerEnv(t)
	before := env.store.Snapshot()

	if err := env.ctrl.Begin(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if pm, err := env.ctrl.Drop(); err != nil || pm != nil {
		t.Fatalf("drop without target: %v %v", pm, err)
	}

	drag(t, env.ctrl, 1, 20)
	env.ctrl.Leave(20)
	if pm, err := env.ctrl.Drop(); err != nil || pm != nil {
		t.Fatalf("drop after leaving: %v %v", pm, err)
	}

	drag(t, env.ctrl, 1, 20)
	if err := env.ctrl.Hover(999); err != nil {
		t.Fatalf("hover: %v", err)
	}
	if pm, err := env.ctrl.Drop(); err != nil || pm != nil {
		t.Fatalf("drop over non-stage: %v %v", pm, err)
	}

	if len(env.mover.Calls()) != 0 {
		t.Fatalf("cancelled gesture issued a request")
	}
	if !env.store.Snapshot().Equal(before) {
		t.Fatalf("cancelled gesture changed the board")
	}
	if env.ctrl.Phase() != Idle {
		t.Fatalf("expected idle")
	}
}

func TestGestureGuards(t *testing.T) {
	env := newControllerEnv(t)
	if _, err := env.ctrl.Drop(); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture, got %v", err)
	}
	if err := env.ctrl.Hover(10); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture, got %v", err)
	}
	if err := env.ctrl.Begin(42); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if err := env.ctrl.Begin(1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.ctrl.Begin(2); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("expected ErrGestureActive, got %v", err)
	}
	env.ctrl.Cancel()

	locked := stage(10, 0)
	locked.AllowTaskMovement = false
	env.store.UpsertStage(locked)
	if err := env.ctrl.Begin(1); !errors.Is(err, ErrMovementLocked) {
		t.Fatalf("expected ErrMovementLocked, got %v", err)
	}
}

func TestPolicyDeniesDrag(t *testing.T) {
	store := newTestStore([]domain.Stage{stage(10, 0), stage(20, 1)}, task(1, 10, 0))
	pol := policy.FromRoles(true, map[string][]string{"viewer": nil})
	ctrl := NewController(context.Background(), store, &stubMover{store: store}, ControllerOptions{
		Policy:    &pol,
		Principal: &policy.Principal{ProjectRole: "viewer"},
	})
	var fe policy.ForbiddenError
	if err := ctrl.Begin(1); !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestLatestMoveOfTaskWins(t *testing.T) {
	store := newTestStore([]domain.Stage{stage(10, 0), stage(20, 1), stage(30, 2)}, task(1, 10, 0))
	first := make(chan struct{})
	mover := &stubMover{store: store}
	mover.respond = func(id int64, req domain.MoveTaskRequest) (domain.Task, error) {
		if req.NewStageID == 20 {
			<-first
			return domain.Task{}, errors.New("timeout")
		}
		return task(id, req.NewStageID, req.NewPosition), nil
	}
	ctrl := NewController(context.Background(), store, mover, ControllerOptions{})

	drag(t, ctrl, 1, 20)
	pm1, err := ctrl.Drop()
	if err != nil {
		t.Fatalf("drop 1: %v", err)
	}
	drag(t, ctrl, 1, 30)
	pm2, err := ctrl.Drop()
	if err != nil {
		t.Fatalf("drop 2: %v", err)
	}
	if _, err := waitMove(t, pm2); err != nil {
		t.Fatalf("move 2: %v", err)
	}
	close(first)
	if _, err := waitMove(t, pm1); !errors.Is(err, ErrMoveFailed) {
		t.Fatalf("expected first move to fail, got %v", err)
	}
	ctrl.Wait()
	if got, _ := store.Task(1); got.StageID != 30 {
		t.Fatalf("stale rollback overrode newer move: %+v", got)
	}
}

func TestFailedMoveReturnsTaskAfterNeighbourDroppedAbove(t *testing.T) {
	env := newControllerEnv(t)
	release := make(chan struct{})
	env.mover.respond = func(id int64, req domain.MoveTaskRequest) (domain.Task, error) {
		if id == 1 {
			<-release
			return domain.Task{}, errors.New("boom")
		}
		return task(id, req.NewStageID, req.NewPosition), nil
	}

	drag(t, env.ctrl, 1, 20)
	pm1, err := env.ctrl.DropAt(0)
	if err != nil {
		t.Fatalf("drop 1: %v", err)
	}
	drag(t, env.ctrl, 2, 20)
	pm2, err := env.ctrl.DropAt(0)
	if err != nil {
		t.Fatalf("drop 2: %v", err)
	}
	if _, err := waitMove(t, pm2); err != nil {
		t.Fatalf("move 2: %v", err)
	}
	close(release)
	if _, err := waitMove(t, pm1); !errors.Is(err, ErrMoveFailed) {
		t.Fatalf("expected move 1 to fail, got %v", err)
	}
	env.ctrl.Wait()

	if got, _ := env.store.Task(1); got.StageID != 10 {
		t.Fatalf("task 1 left in stage %d after its move failed", got.StageID)
	}
	if got, _ := env.store.Task(2); got.StageID != 20 || got.Position != 0 {
		t.Fatalf("confirmed move of task 2 disturbed: %+v", got)
	}
	if snap := env.store.Snapshot(); !snap.Equal(Snapshot{10: {1}, 20: {2}}) {
		t.Fatalf("unexpected board %v", snap)
	}
}

func TestMoveResponseForAnotherTaskKeepsLocalState(t *testing.T) {
	env := newControllerEnv(t)
	env.mover.respond = func(id int64, req domain.MoveTaskRequest) (domain.Task, error) {
		return task(2, 20, 5), nil
	}
	drag(t, env.ctrl, 1, 20)
	pm, err := env.ctrl.Drop()
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	got, err := waitMove(t, pm)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got.ID != 1 || got.StageID != 20 {
		t.Fatalf("unexpected result %+v", got)
	}
	if other, _ := env.store.Task(2); other.StageID != 10 || other.Position != 0 {
		t.Fatalf("echoed record replaced task 2: %+v", other)
	}
	if env.store.Pending(1) {
		t.Fatalf("move still pending")
	}
}

func TestClosedStoreIgnoresLateConfirmation(t *testing.T) {
	env := newControllerEnv(t)
	env.mover.gate = make(chan struct{})
	drag(t, env.ctrl, 1, 20)
	pm, err := env.ctrl.Drop()
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	env.store.Close()
	frozen := env.store.Snapshot()
	env.cancel()
	if _, err := waitMove(t, pm); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	env.ctrl.Wait()
	if !env.store.Snapshot().Equal(frozen) {
		t.Fatalf("closed store changed after cancellation")
	}
	select {
	case e := <-env.events:
		t.Fatalf("closed view published %+v", e)
	default:
	}
}
