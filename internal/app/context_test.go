package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"stageboard/internal/bus"
	"stageboard/internal/domain"
	"stageboard/internal/gateway"
	"stageboard/internal/mockapi"
	"stageboard/internal/repo"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMock(t *testing.T) (string, *mockapi.Server) {
	t.Helper()
	mock, err := mockapi.New(mockapi.Config{
		JWTSecret:     "test-secret",
		BcryptCost:    bcrypt.MinCost,
		AdminEmail:    "admin@example.com",
		AdminPassword: "admin123",
		Seed:          true,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("build mock: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: mock}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})
	return "http://" + ln.Addr().String() + "/api", mock
}

func openWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Open(context.Background(), t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("DEBUG", io.Discard)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
	if _, err := NewLogger("chatty", io.Discard); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestResolveProject(t *testing.T) {
	ws := openWorkspace(t)
	ctx := context.Background()
	if _, err := ws.ResolveProject(ctx, 0); !errors.Is(err, ErrNoProject) {
		t.Fatalf("expected ErrNoProject, got %v", err)
	}
	if err := ws.Repo.SetCurrentProject(ctx, 7); err != nil {
		t.Fatalf("set project: %v", err)
	}
	if id, err := ws.ResolveProject(ctx, 0); err != nil || id != 7 {
		t.Fatalf("expected stored project 7, got %d %v", id, err)
	}
	if id, _ := ws.ResolveProject(ctx, 3); id != 3 {
		t.Fatalf("flag must win over the stored project, got %d", id)
	}
}

func TestLoginAndOpenBoard(t *testing.T) {
	baseURL, _ := newMock(t)
	ws := openWorkspace(t)
	ctx := context.Background()

	s, err := ws.Login(ctx, baseURL, "admin@example.com", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.User.Role != "admin" {
		t.Fatalf("unexpected user %+v", s.User)
	}
	if got := ws.BaseURL(ctx, ""); got != baseURL {
		t.Fatalf("stored base url not reused: %s", got)
	}

	client := ws.Client(ctx, "")
	if me, err := client.Me(ctx); err != nil || me.Email != "admin@example.com" {
		t.Fatalf("me: %+v %v", me, err)
	}
	projects, err := client.Projects(ctx)
	if err != nil || len(projects) == 0 {
		t.Fatalf("projects: %v %v", projects, err)
	}
	view, project, err := ws.OpenBoard(ctx, client, projects[0].ID)
	if err != nil {
		t.Fatalf("open board: %v", err)
	}
	defer view.Close()
	if project.ID != projects[0].ID || len(view.Store().Stages()) != 4 {
		t.Fatalf("unexpected board for %+v: %d stages", project, len(view.Store().Stages()))
	}

	stages := view.Store().Stages()
	moving := view.Store().InStage(stages[0].ID)[0]
	pm, err := view.Move(moving.ID, stages[1].ID, -1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pm.Wait(wctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	view.Controller().Wait()
	history, err := ws.Repo.MoveHistory(ctx, project.ID, 10)
	if err != nil || len(history) != 1 || history[0].Outcome != domain.MoveConfirmed {
		t.Fatalf("move not journaled: %+v %v", history, err)
	}
}

func TestUnauthorizedClearsStoredSession(t *testing.T) {
	baseURL, mock := newMock(t)
	ws := openWorkspace(t)
	ctx := context.Background()
	events := ws.Bus.Subscribe()
	defer ws.Bus.Unsubscribe(events)

	if _, err := ws.Login(ctx, baseURL, "admin@example.com", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	mock.RevokeSessions()
	if _, err := ws.Client(ctx, "").Projects(ctx); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := ws.Repo.Session(ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("session still stored: %v", err)
	}
	select {
	case e := <-events:
		if e.Kind != bus.SessionInvalidated {
			t.Fatalf("unexpected event %s", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("no session_invalidated event")
	}
}

func TestPrincipalRequiresSession(t *testing.T) {
	ws := openWorkspace(t)
	if _, err := ws.Principal(context.Background(), domain.Project{UserRole: "owner"}); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
