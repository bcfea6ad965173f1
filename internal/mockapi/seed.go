package mockapi

import (
	"time"

	"stageboard/internal/domain"
)

type seedStage struct {
	name   string
	color  string
	status string
	tasks  []seedTask
}

type seedTask struct {
	title    string
	priority string
	dueIn    time.Duration
}

var sampleStages = []seedStage{
	{name: "To Do", color: "#3B82F6", status: domain.StatusTodo, tasks: []seedTask{
		{title: "Design the database schema", priority: "P1", dueIn: 72 * time.Hour},
		{title: "Draft the UI prototype", priority: "P2", dueIn: 120 * time.Hour},
		{title: "Write the project docs", priority: "P3"},
	}},
	{name: "In Progress", color: "#F59E0B", status: domain.StatusInProgress, tasks: []seedTask{
		{title: "Build user authentication", priority: "P1", dueIn: 48 * time.Hour},
		{title: "Build the project module", priority: "P2"},
	}},
	{name: "Review", color: "#8B5CF6", status: domain.StatusInProgress, tasks: []seedTask{
		{title: "Unit tests", priority: "P2", dueIn: -24 * time.Hour},
	}},
	{name: "Done", color: "#10B981", status: domain.StatusDone, tasks: []seedTask{
		{title: "Project setup", priority: "P3"},
		{title: "Pick the tech stack", priority: "P3"},
	}},
}

// seed creates the sample project owned by the first admin account, or by a
// system account when there is none.
func (s *state) seed() error {
	s.mu.Lock()
	var owner int64
	for id, u := range s.users {
		if u.user.IsAdmin() && (owner == 0 || id < owner) {
			owner = id
		}
	}
	s.mu.Unlock()
	if owner == 0 {
		u, err := s.addUser("system", "system@example.com", "system-"+time.Now().String(), "admin")
		if err != nil {
			return err
		}
		owner = u.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	proj := &domain.Project{
		ID:          s.id(),
		Name:        "Sample project: website",
		Description: "A demo board to try stages and drag-and-drop on.",
		OwnerID:     owner,
		Status:      "active",
		StartDate:   &now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.projects[proj.ID] = proj
	s.members[proj.ID] = map[int64]string{owner: "owner"}
	s.sample = proj.ID

	for _, ss := range sampleStages {
		st := s.insertStageLocked(owner, domain.CreateStageRequest{ProjectID: proj.ID, Name: ss.name, Color: ss.color, AutoAssignStatus: ss.status})
		for i, tk := range ss.tasks {
			t := &domain.Task{
				ID:        s.id(),
				StageID:   st.ID,
				ProjectID: proj.ID,
				Title:     tk.title,
				Status:    ss.status,
				Priority:  tk.priority,
				Position:  i + 1,
				CreatedBy: owner,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if tk.dueIn != 0 {
				due := now.Add(tk.dueIn)
				t.DueDate = &due
			}
			s.tasks[t.ID] = t
		}
	}
	return nil
}

// joinSampleProject adds a new account to the sample project as a
// collaborator.
func (s *state) joinSampleProject(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sample == 0 {
		return
	}
	if _, ok := s.members[s.sample]; ok {
		s.members[s.sample][userID] = "collaborator"
	}
}
