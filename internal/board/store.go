package board

import (
	"errors"
	"sort"
	"sync"

	"stageboard/internal/domain"
)

var (
	ErrClosed       = errors.New("board view closed")
	ErrUnknownTask  = errors.New("task not on this board")
	ErrUnknownStage = errors.New("stage not on this board")
)

// Snapshot is the full stage to ordered task id arrangement at an instant.
type Snapshot map[int64][]int64

// Equal reports whether both snapshots hold the same stages with the same
// task order. Empty and missing stages compare equal.
func (s Snapshot) Equal(o Snapshot) bool {
	for k, v := range s {
		w := o[k]
		if len(v) != len(w) {
			return false
		}
		for i := range v {
			if v[i] != w[i] {
				return false
			}
		}
	}
	for k, w := range o {
		if _, ok := s[k]; !ok && len(w) > 0 {
			return false
		}
	}
	return true
}

// Placement is where a task sits.
type Placement struct {
	StageID  int64
	Position int
}

type change struct {
	taskID int64
	before Placement
	after  Placement
}

// Move records one optimistic move so it can be confirmed or undone.
type Move struct {
	TaskID    int64
	From      Placement
	To        Placement
	FromIndex int
	ToIndex   int

	seq     uint64
	gen     uint64
	changes []change
}

// Noop reports whether applying the move changed nothing.
func (m Move) Noop() bool { return len(m.changes) == 0 }

// Store holds the tasks and stages of the open project. All methods are safe
// for concurrent use; once closed every mutation is ignored.
type Store struct {
	mu     sync.Mutex
	tasks  []domain.Task
	stages []domain.Stage
	closed bool
	gen    uint64
	seq    uint64
	latest map[int64]uint64
}

// NewStore returns an empty open store.
func NewStore() *Store {
	return &Store{latest: make(map[int64]uint64)}
}

// ReplaceAll swaps in a freshly fetched task list. Pending moves issued
// before the replacement no longer apply.
func (s *Store) ReplaceAll(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.tasks = append([]domain.Task(nil), tasks...)
	s.gen++
	s.latest = make(map[int64]uint64)
}

// UpsertOne replaces the task with the same id or appends it.
func (s *Store) UpsertOne(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if i := s.indexOf(t.ID); i >= 0 {
		s.tasks[i] = t
		return
	}
	s.tasks = append(s.tasks, t)
}

// RemoveOne drops the task and any move still pending for it.
func (s *Store) RemoveOne(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if i := s.indexOf(taskID); i >= 0 {
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	}
	delete(s.latest, taskID)
}

// MoveOptimistic takes the task out of its stage order, inserts it into the
// destination order at index (clamped), and renumbers both stages 0..n-1.
func (s *Store) MoveOptimistic(taskID, stageID int64, index int) (Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Move{}, ErrClosed
	}
	ti := s.indexOf(taskID)
	if ti < 0 {
		return Move{}, ErrUnknownTask
	}
	if len(s.stages) > 0 && s.stageIndex(stageID) < 0 {
		return Move{}, ErrUnknownStage
	}
	task := s.tasks[ti]
	m := Move{
		TaskID: taskID,
		From:   Placement{StageID: task.StageID, Position: task.Position},
		gen:    s.gen,
	}

	source := s.orderedIDs(task.StageID)
	m.FromIndex = indexOfID(source, taskID)
	source = removeID(source, taskID)
	dest := source
	if stageID != task.StageID {
		dest = s.orderedIDs(stageID)
	}
	if index < 0 {
		index = 0
	}
	if index > len(dest) {
		index = len(dest)
	}
	dest = append(dest[:index], append([]int64{taskID}, dest[index:]...)...)
	m.ToIndex = index

	target := map[int64]Placement{}
	if stageID != task.StageID {
		for i, id := range source {
			target[id] = Placement{StageID: task.StageID, Position: i}
		}
	}
	for i, id := range dest {
		target[id] = Placement{StageID: stageID, Position: i}
	}
	for i := range s.tasks {
		t := &s.tasks[i]
		p, ok := target[t.ID]
		if !ok {
			continue
		}
		before := Placement{StageID: t.StageID, Position: t.Position}
		if before == p {
			continue
		}
		m.changes = append(m.changes, change{taskID: t.ID, before: before, after: p})
		t.StageID = p.StageID
		t.Position = p.Position
	}
	m.To = target[taskID]
	if m.Noop() {
		return m, nil
	}
	s.seq++
	m.seq = s.seq
	s.latest[taskID] = m.seq
	return m, nil
}

// current reports whether m is still the newest move of its task in this
// generation of the store. Callers hold s.mu.
func (s *Store) current(m Move) bool {
	return !s.closed && m.seq != 0 && m.gen == s.gen && s.latest[m.TaskID] == m.seq
}

// Confirm overwrites the moved task with the server's record. A record of
// another task is not applied; the move settles on its optimistic state.
func (s *Store) Confirm(m Move, t domain.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(m) {
		return false
	}
	delete(s.latest, m.TaskID)
	if t.ID != m.TaskID {
		return true
	}
	if i := s.indexOf(t.ID); i >= 0 {
		s.tasks[i] = t
	}
	return true
}

// Settle keeps the optimistic state of a move the server acknowledged
// without returning a record.
func (s *Store) Settle(m Move) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(m) {
		return false
	}
	delete(s.latest, m.TaskID)
	return true
}

// Rollback returns the moved task to its source stage. Neighbours the move
// shifted are restored unless something else has moved them since. When no
// later move interfered the result is exactly the pre-move arrangement;
// otherwise the task is reinserted at its source index in the source stage's
// current order and both stages it touches are renumbered.
func (s *Store) Rollback(m Move) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(m) {
		return false
	}
	delete(s.latest, m.TaskID)
	exact := true
	for _, c := range m.changes {
		i := s.indexOf(c.taskID)
		if i < 0 {
			continue
		}
		t := &s.tasks[i]
		if (Placement{StageID: t.StageID, Position: t.Position}) != c.after {
			exact = false
			continue
		}
		t.StageID = c.before.StageID
		t.Position = c.before.Position
	}
	if !exact {
		s.reinsert(m.TaskID, m.From.StageID, m.FromIndex)
	}
	return true
}

// reinsert places the task at index of stageID's order and renumbers that
// stage and the one the task sat in. Callers hold s.mu.
func (s *Store) reinsert(taskID, stageID int64, index int) {
	ti := s.indexOf(taskID)
	if ti < 0 {
		return
	}
	left := s.tasks[ti].StageID
	order := removeID(s.orderedIDs(stageID), taskID)
	if index < 0 {
		index = 0
	}
	if index > len(order) {
		index = len(order)
	}
	order = append(order[:index], append([]int64{taskID}, order[index:]...)...)
	if left != stageID {
		s.renumber(left, removeID(s.orderedIDs(left), taskID))
	}
	s.tasks[ti].StageID = stageID
	s.renumber(stageID, order)
}

func (s *Store) renumber(stageID int64, order []int64) {
	for pos, id := range order {
		if i := s.indexOf(id); i >= 0 {
			s.tasks[i].StageID = stageID
			s.tasks[i].Position = pos
		}
	}
}

// Pending reports whether the task has an unconfirmed optimistic move.
func (s *Store) Pending(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.latest[taskID]
	return ok
}

// ReplaceStages swaps in a freshly fetched stage list.
func (s *Store) ReplaceStages(stages []domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stages = append([]domain.Stage(nil), stages...)
}

// UpsertStage replaces the stage with the same id or appends it.
func (s *Store) UpsertStage(st domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if i := s.stageIndex(st.ID); i >= 0 {
		s.stages[i] = st
		return
	}
	s.stages = append(s.stages, st)
}

// RemoveStage drops the stage and the tasks it held.
func (s *Store) RemoveStage(stageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if i := s.stageIndex(stageID); i >= 0 {
		s.stages = append(s.stages[:i], s.stages[i+1:]...)
	}
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.StageID == stageID {
			delete(s.latest, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
}

// Stages returns the stages ordered by (position, id).
func (s *Store) Stages() []domain.Stage {
	s.mu.Lock()
	res := append([]domain.Stage(nil), s.stages...)
	s.mu.Unlock()
	SortStages(res)
	return res
}

func (s *Store) Stage(id int64) (domain.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.stageIndex(id); i >= 0 {
		return s.stages[i], true
	}
	return domain.Stage{}, false
}

// Tasks returns a copy of every task.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks...)
}

func (s *Store) Task(id int64) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.tasks[i], true
	}
	return domain.Task{}, false
}

// InStage returns the stage's tasks ordered by (position, id).
func (s *Store) InStage(stageID int64) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inStage(stageID)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Snapshot derives the current arrangement. Every known stage is present,
// empty or not.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{}
	for _, st := range s.stages {
		snap[st.ID] = []int64{}
	}
	for _, t := range s.tasks {
		if _, ok := snap[t.StageID]; !ok {
			snap[t.StageID] = []int64{}
		}
	}
	for id := range snap {
		snap[id] = s.orderedIDs(id)
	}
	return snap
}

// Close detaches the store from its view.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) inStage(stageID int64) []domain.Task {
	var res []domain.Task
	for _, t := range s.tasks {
		if t.StageID == stageID {
			res = append(res, t)
		}
	}
	SortTasks(res)
	return res
}

func (s *Store) orderedIDs(stageID int64) []int64 {
	tasks := s.inStage(stageID)
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func (s *Store) indexOf(id int64) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) stageIndex(id int64) int {
	for i := range s.stages {
		if s.stages[i].ID == id {
			return i
		}
	}
	return -1
}

// SortTasks orders tasks by position, breaking ties by id.
func SortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// SortStages orders stages by position, breaking ties by id.
func SortStages(stages []domain.Stage) {
	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].Position != stages[j].Position {
			return stages[i].Position < stages[j].Position
		}
		return stages[i].ID < stages[j].ID
	})
}

func indexOfID(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func removeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
