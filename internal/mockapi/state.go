package mockapi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stageboard/internal/domain"
)

type faults struct {
	failMoves   int
	pinPosition *int
	moveDelay   time.Duration
}

type userRecord struct {
	user domain.User
	hash []byte
}

// state holds every record of the mock backend behind one lock.
type state struct {
	mu       sync.Mutex
	now      func() time.Time
	cost     int
	nextID   int64
	users    map[int64]*userRecord
	projects map[int64]*domain.Project
	members  map[int64]map[int64]string
	stages   map[int64]*domain.Stage
	tasks    map[int64]*domain.Task
	comments map[int64]*domain.Comment
	sessions map[string]int64
	sample   int64
	faults   faults
}

func newState(now func() time.Time, cost int) *state {
	return &state{
		now:      now,
		cost:     cost,
		users:    make(map[int64]*userRecord),
		projects: make(map[int64]*domain.Project),
		members:  make(map[int64]map[int64]string),
		stages:   make(map[int64]*domain.Stage),
		tasks:    make(map[int64]*domain.Task),
		comments: make(map[int64]*domain.Comment),
		sessions: make(map[string]int64),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) addUser(username, email, password, role string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, invalid("email and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.user.Email == email {
			return domain.User{}, invalid("Email already registered")
		}
		if u.user.Username == username {
			return domain.User{}, invalid("Username already taken")
		}
	}
	user := domain.User{ID: s.id(), Username: username, Email: email, Role: role}
	s.users[user.ID] = &userRecord{user: user, hash: hash}
	return user, nil
}

func (s *state) authenticate(email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	var rec *userRecord
	for _, u := range s.users {
		if u.user.Email == email {
			rec = u
			break
		}
	}
	s.mu.Unlock()
	if rec == nil {
		return domain.User{}, notFound("user")
	}
	if err := bcrypt.CompareHashAndPassword(rec.hash, []byte(password)); err != nil {
		return domain.User{}, err
	}
	return rec.user, nil
}

func (s *state) user(id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return domain.User{}, notFound("user")
	}
	return rec.user, nil
}

func (s *state) openSession(jti string, userID int64) {
	s.mu.Lock()
	s.sessions[jti] = userID
	s.mu.Unlock()
}

func (s *state) sessionValid(jti string, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.sessions[jti]
	if !ok || owner != userID {
		return false
	}
	_, exists := s.users[userID]
	return exists
}

// roleIn returns the user's role in the project, or "" when not a member.
func (s *state) roleIn(projectID, userID int64) string {
	if p, ok := s.projects[projectID]; ok && p.OwnerID == userID {
		return "owner"
	}
	return s.members[projectID][userID]
}

func (s *state) canSee(p principal, projectID int64) bool {
	return p.Role == "admin" || s.roleIn(projectID, p.UserID) != ""
}

func (s *state) listProjects(p principal) []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, proj := range s.projects {
		if s.canSee(p, proj.ID) {
			cp := *proj
			cp.UserRole = s.roleIn(proj.ID, p.UserID)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) project(p principal, id int64) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectLocked(p, id)
}

func (s *state) projectLocked(p principal, id int64) (domain.Project, error) {
	proj, ok := s.projects[id]
	if !ok {
		return domain.Project{}, notFound("project")
	}
	if !s.canSee(p, id) {
		return domain.Project{}, fmt.Errorf("access to project denied: %w", errForbidden)
	}
	cp := *proj
	cp.UserRole = s.roleIn(id, p.UserID)
	return cp, nil
}

func (s *state) createProject(p principal, req domain.CreateProjectRequest) (domain.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return domain.Project{}, invalid("Project name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	proj := &domain.Project{
		ID:          s.id(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		OwnerID:     p.UserID,
		Status:      "active",
		StartDate:   &now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.projects[proj.ID] = proj
	s.members[proj.ID] = map[int64]string{p.UserID: "owner"}
	cp := *proj
	cp.UserRole = "owner"
	return cp, nil
}

func (s *state) updateProject(p principal, id int64, req domain.UpdateProjectRequest) (domain.Project, error) {
	if err := req.Validate(); err != nil {
		return domain.Project{}, invalid("%s", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.projectLocked(p, id); err != nil {
		return domain.Project{}, err
	}
	proj := s.projects[id]
	if req.Name != "" {
		proj.Name = req.Name
	}
	if req.Description != "" {
		proj.Description = req.Description
	}
	if req.Status != "" {
		proj.Status = req.Status
	}
	if req.EndDate != "" {
		end, _ := domain.ParseDate(req.EndDate)
		proj.EndDate = &end
	}
	proj.Version++
	proj.UpdatedAt = s.now().UTC()
	return s.projectLocked(p, id)
}

func (s *state) deleteProject(p principal, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.projects[id]
	if !ok {
		return notFound("project")
	}
	if p.Role != "admin" && proj.OwnerID != p.UserID {
		return fmt.Errorf("only the owner can delete a project: %w", errForbidden)
	}
	for sid, st := range s.stages {
		if st.ProjectID == id {
			s.dropStageLocked(sid)
		}
	}
	delete(s.projects, id)
	delete(s.members, id)
	if s.sample == id {
		s.sample = 0
	}
	return nil
}

func (s *state) stageList(p principal, projectID int64) ([]domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.projectLocked(p, projectID); err != nil {
		return nil, err
	}
	return s.stagesOfLocked(projectID), nil
}

func (s *state) stagesOfLocked(projectID int64) []domain.Stage {
	out := []domain.Stage{}
	for _, st := range s.stages {
		if st.ProjectID == projectID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) createStage(p principal, req domain.CreateStageRequest) (domain.Stage, error) {
	if err := req.Validate(); err != nil {
		return domain.Stage{}, invalid("%s", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.projectLocked(p, req.ProjectID); err != nil {
		return domain.Stage{}, err
	}
	return s.insertStageLocked(p.UserID, req), nil
}

func (s *state) insertStageLocked(userID int64, req domain.CreateStageRequest) domain.Stage {
	pos := 0
	for _, st := range s.stages {
		if st.ProjectID == req.ProjectID && st.Position >= pos {
			pos = st.Position + 1
		}
	}
	color := req.Color
	if color == "" {
		color = domain.DefaultStageColor
	}
	now := s.now().UTC()
	st := &domain.Stage{
		ID:                  s.id(),
		ProjectID:           req.ProjectID,
		Name:                strings.TrimSpace(req.Name),
		Description:         req.Description,
		Color:               color,
		Position:            pos,
		TaskLimit:           req.TaskLimit,
		CreatedBy:           userID,
		Version:             1,
		AllowTaskCreation:   true,
		AllowTaskDeletion:   true,
		AllowTaskMovement:   true,
		NotificationEnabled: true,
		AutoAssignStatus:    req.AutoAssignStatus,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.stages[st.ID] = st
	return *st
}

func (s *state) stageLocked(p principal, id int64) (*domain.Stage, error) {
	st, ok := s.stages[id]
	if !ok {
		return nil, notFound("stage")
	}
	if _, err := s.projectLocked(p, st.ProjectID); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *state) updateStage(p principal, id int64, req domain.UpdateStageRequest) (domain.Stage, error) {
	if err := req.Validate(); err != nil {
		return domain.Stage{}, invalid("%s", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stageLocked(p, id)
	if err != nil {
		return domain.Stage{}, err
	}
	if req.Name != "" {
		st.Name = req.Name
	}
	if req.Description != "" {
		st.Description = req.Description
	}
	if req.Color != "" {
		st.Color = req.Color
	}
	if req.TaskLimit != nil {
		st.TaskLimit = req.TaskLimit
	}
	if req.IsCompleted != nil {
		st.IsCompleted = *req.IsCompleted
		if st.IsCompleted {
			now := s.now().UTC()
			st.CompletedAt = &now
		} else {
			st.CompletedAt = nil
		}
	}
	if req.MaxTasks != nil {
		st.MaxTasks = req.MaxTasks
	}
	if req.AllowTaskCreation != nil {
		st.AllowTaskCreation = *req.AllowTaskCreation
	}
	if req.AllowTaskDeletion != nil {
		st.AllowTaskDeletion = *req.AllowTaskDeletion
	}
	if req.AllowTaskMovement != nil {
		st.AllowTaskMovement = *req.AllowTaskMovement
	}
	if req.NotificationEnabled != nil {
		st.NotificationEnabled = *req.NotificationEnabled
	}
	if req.AutoAssignStatus != nil {
		st.AutoAssignStatus = *req.AutoAssignStatus
	}
	if req.Position != nil {
		st.Position = *req.Position
	}
	st.Version++
	st.UpdatedAt = s.now().UTC()
	return *st, nil
}

// deleteStage removes the stage with its tasks and closes the gap in the
// positions of the remaining stages.
func (s *state) deleteStage(p principal, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stageLocked(p, id)
	if err != nil {
		return err
	}
	projectID, pos := st.ProjectID, st.Position
	s.dropStageLocked(id)
	for _, other := range s.stages {
		if other.ProjectID == projectID && other.Position > pos {
			other.Position--
		}
	}
	return nil
}

func (s *state) dropStageLocked(id int64) {
	for tid, t := range s.tasks {
		if t.StageID == id {
			s.dropTaskLocked(tid)
		}
	}
	delete(s.stages, id)
}

func (s *state) reorderStages(p principal, orders []domain.StageOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		if _, err := s.stageLocked(p, o.StageID); err != nil {
			return err
		}
	}
	for _, o := range orders {
		s.stages[o.StageID].Position = o.Position
	}
	return nil
}

func (s *state) taskList(p principal, projectID int64) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.projectLocked(p, projectID); err != nil {
		return nil, err
	}
	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StageID != out[j].StageID {
			return out[i].StageID < out[j].StageID
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) countInStageLocked(stageID, except int64) int {
	n := 0
	for _, t := range s.tasks {
		if t.StageID == stageID && t.ID != except {
			n++
		}
	}
	return n
}

func (s *state) maxPositionLocked(stageID int64) int {
	top := 0
	for _, t := range s.tasks {
		if t.StageID == stageID && t.Position > top {
			top = t.Position
		}
	}
	return top
}

func (s *state) createTask(p principal, req domain.CreateTaskRequest) (domain.Task, error) {
	if err := req.Validate(); err != nil {
		return domain.Task{}, invalid("%s", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stageLocked(p, req.StageID)
	if err != nil || st.ProjectID != req.ProjectID {
		return domain.Task{}, notFound("stage")
	}
	if !st.AllowTaskCreation {
		return domain.Task{}, invalid("Task creation is not allowed in this stage")
	}
	if limit := st.Limit(); limit > 0 && s.countInStageLocked(st.ID, 0) >= limit {
		return domain.Task{}, invalid("Stage has reached maximum task limit")
	}
	now := s.now().UTC()
	t := &domain.Task{
		ID:             s.id(),
		StageID:        req.StageID,
		ProjectID:      req.ProjectID,
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		AssigneeID:     req.AssigneeID,
		EstimatedHours: req.EstimatedHours,
		Position:       s.maxPositionLocked(req.StageID) + 1,
		CreatedBy:      p.UserID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Priority == "" {
		t.Priority = domain.DefaultPriority
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
		if st.AutoAssignStatus != "" {
			t.Status = st.AutoAssignStatus
		}
	}
	if req.DueDate != "" {
		due, _ := domain.ParseDate(req.DueDate)
		t.DueDate = &due
	}
	s.tasks[t.ID] = t
	return *t, nil
}

func (s *state) taskLocked(p principal, id int64) (*domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, notFound("task")
	}
	if _, err := s.projectLocked(p, t.ProjectID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *state) updateTask(p principal, id int64, req domain.UpdateTaskRequest) (domain.Task, error) {
	if err := req.Validate(); err != nil {
		return domain.Task{}, invalid("%s", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taskLocked(p, id)
	if err != nil {
		return domain.Task{}, err
	}
	if req.Title != "" {
		t.Title = req.Title
	}
	if req.Description != "" {
		t.Description = req.Description
	}
	if req.Priority != "" {
		t.Priority = req.Priority
	}
	if req.Status != "" {
		t.Status = req.Status
	}
	if req.AssigneeID != nil {
		t.AssigneeID = req.AssigneeID
	}
	if req.DueDate != "" {
		due, _ := domain.ParseDate(req.DueDate)
		t.DueDate = &due
	}
	if req.EstimatedHours != nil {
		t.EstimatedHours = req.EstimatedHours
	}
	t.Version++
	t.UpdatedAt = s.now().UTC()
	return *t, nil
}

func (s *state) deleteTask(p principal, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taskLocked(p, id)
	if err != nil {
		return err
	}
	if st, ok := s.stages[t.StageID]; ok && !st.AllowTaskDeletion {
		return invalid("Task deletion is not allowed in this stage")
	}
	s.dropTaskLocked(id)
	return nil
}

func (s *state) dropTaskLocked(id int64) {
	for cid, c := range s.comments {
		if c.TaskID == id {
			delete(s.comments, cid)
		}
	}
	delete(s.tasks, id)
}

// moveTask relocates a task. A negative position appends after the last
// task of the destination; otherwise tasks at or after the position shift
// down by one.
func (s *state) moveTask(p principal, id int64, req domain.MoveTaskRequest) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.failMoves > 0 {
		s.faults.failMoves--
		return domain.Task{}, fmt.Errorf("injected move failure")
	}
	t, err := s.taskLocked(p, id)
	if err != nil {
		return domain.Task{}, err
	}
	dest, ok := s.stages[req.NewStageID]
	if !ok || dest.ProjectID != t.ProjectID {
		return domain.Task{}, notFound("target stage")
	}
	if !dest.AllowTaskMovement {
		return domain.Task{}, invalid("Task movement is not allowed to this stage")
	}
	if limit := dest.Limit(); limit > 0 && s.countInStageLocked(dest.ID, t.ID) >= limit {
		return domain.Task{}, invalid("Target stage has reached maximum task limit")
	}
	pos := req.NewPosition
	if pos < 0 {
		pos = s.maxPositionLocked(dest.ID) + 1
	} else {
		for _, other := range s.tasks {
			if other.StageID == dest.ID && other.ID != t.ID && other.Position >= pos {
				other.Position++
			}
		}
	}
	if s.faults.pinPosition != nil {
		pos = *s.faults.pinPosition
	}
	t.StageID = dest.ID
	t.Position = pos
	t.Version++
	t.UpdatedAt = s.now().UTC()
	return *t, nil
}

func (s *state) moveDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults.moveDelay
}

func (s *state) reorderTasks(p principal, orders []domain.TaskOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		if _, err := s.taskLocked(p, o.TaskID); err != nil {
			return err
		}
	}
	now := s.now().UTC()
	for _, o := range orders {
		t := s.tasks[o.TaskID]
		t.Position = o.Position
		t.UpdatedAt = now
	}
	return nil
}

// commentTree returns the task's root comments with their replies nested.
func (s *state) commentTree(p principal, taskID int64) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.taskLocked(p, taskID); err != nil {
		return nil, err
	}
	var all []domain.Comment
	for _, c := range s.comments {
		if c.TaskID == taskID {
			cp := *c
			if rec, ok := s.users[c.UserID]; ok {
				u := rec.user
				cp.User = &u
			}
			all = append(all, cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	replies := map[int64][]domain.Comment{}
	roots := []domain.Comment{}
	for _, c := range all {
		if c.ParentCommentID != nil {
			replies[*c.ParentCommentID] = append(replies[*c.ParentCommentID], c)
			continue
		}
		roots = append(roots, c)
	}
	for i := range roots {
		roots[i].Replies = replies[roots[i].ID]
	}
	return roots, nil
}

func (s *state) createComment(p principal, taskID int64, req domain.CreateCommentRequest) (domain.Comment, error) {
	if strings.TrimSpace(req.Content) == "" {
		return domain.Comment{}, invalid("Comment content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.taskLocked(p, taskID); err != nil {
		return domain.Comment{}, err
	}
	if req.ParentCommentID != nil {
		parent, ok := s.comments[*req.ParentCommentID]
		if !ok || parent.TaskID != taskID {
			return domain.Comment{}, notFound("parent comment")
		}
	}
	c := &domain.Comment{
		ID:              s.id(),
		Content:         req.Content,
		UserID:          p.UserID,
		TaskID:          taskID,
		MediaID:         req.MediaID,
		MediaType:       req.MediaType,
		MediaName:       req.MediaName,
		ReplyToID:       req.ReplyToID,
		ParentCommentID: req.ParentCommentID,
		CreatedAt:       s.now().UTC(),
	}
	s.comments[c.ID] = c
	out := *c
	if rec, ok := s.users[p.UserID]; ok {
		u := rec.user
		out.User = &u
	}
	return out, nil
}

func (s *state) updateComment(p principal, id int64, content string) (domain.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Comment{}, invalid("Comment content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return domain.Comment{}, notFound("comment")
	}
	if c.UserID != p.UserID {
		return domain.Comment{}, fmt.Errorf("you can only edit your own comments: %w", errForbidden)
	}
	now := s.now().UTC()
	c.Content = content
	c.UpdatedAt = &now
	return *c, nil
}

func (s *state) deleteComment(p principal, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return notFound("comment")
	}
	if c.UserID != p.UserID && p.Role != "admin" {
		return fmt.Errorf("you can only delete your own comments: %w", errForbidden)
	}
	for rid, r := range s.comments {
		if r.ParentCommentID != nil && *r.ParentCommentID == id {
			delete(s.comments, rid)
		}
	}
	delete(s.comments, id)
	return nil
}

func (s *state) projectStats(p principal, projectID int64) (domain.ProjectStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.projectLocked(p, projectID); err != nil {
		return domain.ProjectStats{}, err
	}
	now := s.now()
	stats := domain.ProjectStats{ProjectID: projectID, TotalMembers: len(s.members[projectID])}
	for _, t := range s.tasks {
		if t.ProjectID != projectID {
			continue
		}
		stats.TotalTasks++
		switch t.Status {
		case domain.StatusDone:
			stats.CompletedTasks++
		case domain.StatusInProgress:
			stats.InProgressTasks++
		default:
			stats.TodoTasks++
		}
		if t.Overdue(now) {
			stats.OverdueTasks++
		}
	}
	for _, st := range s.stages {
		if st.ProjectID == projectID {
			stats.TotalStages++
		}
	}
	if stats.TotalTasks > 0 {
		stats.CompletionRate = float64(stats.CompletedTasks) / float64(stats.TotalTasks) * 100
	}
	return stats, nil
}
