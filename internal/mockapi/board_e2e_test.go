package mockapi

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stageboard/internal/board"
	"stageboard/internal/bus"
	"stageboard/internal/domain"
	"stageboard/internal/gateway"
)

func newGatewayClient(t *testing.T, srv *testServer) (*gateway.Client, *gateway.MemoryTokens) {
	t.Helper()
	tokens := gateway.NewMemoryTokens("")
	client := gateway.New(srv.URL+"/api", tokens)
	res, err := client.Login(context.Background(), adminEmail, adminPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	tokens.SetToken(res.Token)
	return client, tokens
}

func seededProject(t *testing.T, client *gateway.Client) domain.Project {
	t.Helper()
	projects, err := client.Projects(context.Background())
	if err != nil || len(projects) == 0 {
		t.Fatalf("projects: %v %v", projects, err)
	}
	return projects[0]
}

func waitPending(t *testing.T, pm *board.PendingMove) (domain.Task, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return pm.Wait(ctx)
}

func TestBoardMoveAgainstServer(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client, _ := newGatewayClient(t, srv)
	proj := seededProject(t, client)

	view, err := board.Open(context.Background(), client, proj.ID, board.Options{})
	if err != nil {
		t.Fatalf("open board: %v", err)
	}
	defer view.Close()

	stages := view.Store().Stages()
	from, to := stages[0], stages[1]
	moving := view.Store().InStage(from.ID)[0]

	pm, err := view.Move(moving.ID, to.ID, 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	confirmed, err := waitPending(t, pm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.StageID != to.ID || confirmed.Position != 0 {
		t.Fatalf("unexpected server record %+v", confirmed)
	}
	server, err := client.Tasks(context.Background(), proj.ID)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	for _, task := range server {
		if task.ID == moving.ID && task.StageID != to.ID {
			t.Fatalf("server did not persist the move: %+v", task)
		}
	}
}

func TestBoardRollbackMatchesServer(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client, _ := newGatewayClient(t, srv)
	proj := seededProject(t, client)
	b := bus.New()
	events := b.Subscribe()

	view, err := board.Open(context.Background(), client, proj.ID, board.Options{Bus: b})
	if err != nil {
		t.Fatalf("open board: %v", err)
	}
	defer view.Close()
	before := view.Store().Snapshot()
	stages := view.Store().Stages()
	moving := view.Store().InStage(stages[0].ID)[0]

	srv.Mock.FailMoves(1)
	pm, err := view.Move(moving.ID, stages[2].ID, -1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := waitPending(t, pm); !errors.Is(err, board.ErrMoveFailed) || gateway.StatusCode(err) != 500 {
		t.Fatalf("expected a failed move with status 500, got %v", err)
	}
	if !view.Store().Snapshot().Equal(before) {
		t.Fatalf("board not restored: %v vs %v", view.Store().Snapshot(), before)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == bus.MoveFailed {
				return
			}
		case <-deadline:
			t.Fatalf("no move_failed event")
		}
	}
}

func TestCloseDuringInFlightMove(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client, _ := newGatewayClient(t, srv)
	proj := seededProject(t, client)

	view, err := board.Open(context.Background(), client, proj.ID, board.Options{})
	if err != nil {
		t.Fatalf("open board: %v", err)
	}
	stages := view.Store().Stages()
	moving := view.Store().InStage(stages[0].ID)[0]

	srv.Mock.DelayMoves(2 * time.Second)
	pm, err := view.Move(moving.ID, stages[1].ID, -1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	frozen := view.Store().Snapshot()
	start := time.Now()
	view.Close()
	if time.Since(start) > time.Second {
		t.Fatalf("close waited for the server")
	}
	if _, err := waitPending(t, pm); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled confirmation, got %v", err)
	}
	if !view.Store().Snapshot().Equal(frozen) {
		t.Fatalf("closed board changed")
	}
}

func TestSessionInvalidatedOn401(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client, tokens := newGatewayClient(t, srv)
	var fired atomic.Int32
	client.OnUnauthorized = func() { fired.Add(1) }
	proj := seededProject(t, client)

	srv.Mock.RevokeSessions()
	_, err := client.Stages(context.Background(), proj.ID)
	if !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if tok, _ := tokens.Token(context.Background()); tok != "" {
		t.Fatalf("token not cleared")
	}
	if fired.Load() != 1 {
		t.Fatalf("expected one invalidation callback, got %d", fired.Load())
	}

	if _, err := client.Login(context.Background(), adminEmail, "wrong"); gateway.StatusCode(err) != 401 {
		t.Fatalf("expected login 401, got %v", err)
	}
	if fired.Load() != 1 {
		t.Fatalf("failed login must not invalidate the session")
	}
}
