package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stageboard/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *MemoryTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tokens := NewMemoryTokens("tok-1")
	return New(srv.URL+"/api", tokens), tokens
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestEnvelopeUnwrapAndHeaders(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/project-tasks/9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected authorization %q", got)
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Errorf("missing request id")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code":    200,
			"message": "success",
			"data": map[string]any{
				"tasks":      []map[string]any{{"id": 1, "stage_id": 2, "title": "a", "position": 0}},
				"project_id": 9,
				"total":      1,
			},
		})
	})
	tasks, err := client.Tasks(context.Background(), 9)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != 1 || tasks[0].StageID != 2 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestUnenvelopedBodyIsDecodedDirectly(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Errorf("login should still carry the stored token")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "new-token",
			"user":  map[string]any{"id": 3, "email": "a@b.c", "role": "admin"},
		})
	})
	res, err := client.Login(context.Background(), " a@b.c ", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Token != "new-token" || !res.User.IsAdmin() {
		t.Fatalf("unexpected login result %+v", res)
	}
}

func TestEnvelopeWithErrorCode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"code": 500, "message": "Failed to load"})
	})
	_, err := client.Projects(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if ae.Code != 500 || ae.Message != "Failed to load" {
		t.Fatalf("unexpected error %+v", ae)
	}
}

func TestErrorStatusCarriesMessage(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "message": "Task movement is not allowed in this stage"})
	})
	_, err := client.MoveTask(context.Background(), 4, domain.MoveTaskRequest{NewStageID: 2})
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("400 must not match ErrUnauthorized")
	}
	if tok, _ := tokens.Token(context.Background()); tok != "tok-1" {
		t.Fatalf("token must survive a 400")
	}
}

func TestUnauthorizedInvalidatesSession(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "message": "Invalid token"})
	})
	var calls int32
	client.OnUnauthorized = func() { atomic.AddInt32(&calls, 1) }
	_, err := client.Stages(context.Background(), 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if tok, _ := tokens.Token(context.Background()); tok != "" {
		t.Fatalf("token not cleared: %q", tok)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one callback, got %d", calls)
	}
}

func TestFailedLoginKeepsSession(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "message": "Invalid email or password"})
	})
	client.OnUnauthorized = func() { t.Errorf("login failure must not invalidate the session") }
	_, err := client.Login(context.Background(), "a@b.c", "bad")
	var ae *APIError
	if !errors.As(err, &ae) || ae.Message != "Invalid email or password" {
		t.Fatalf("unexpected error %v", err)
	}
	if tok, _ := tokens.Token(context.Background()); tok != "tok-1" {
		t.Fatalf("token changed: %q", tok)
	}
}

func TestMoveTaskWithoutEchoedTask(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/4/move" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(b, &body)
		if body["new_stage_id"] != float64(2) || body["new_position"] != float64(0) {
			t.Errorf("unexpected body %s", b)
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": 200, "message": "success", "data": map[string]any{"message": "Task moved"}})
	})
	task, err := client.MoveTask(context.Background(), 4, domain.MoveTaskRequest{NewStageID: 2, NewPosition: 0})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.ID != 0 {
		t.Fatalf("expected zero task, got %+v", task)
	}
}

func TestValidationHappensBeforeRequest(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	})
	if _, err := client.CreateTask(context.Background(), domain.CreateTaskRequest{StageID: 1, ProjectID: 1, Title: " "}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := client.UpdateTask(context.Background(), 1, domain.UpdateTaskRequest{Priority: "P9"}); err == nil {
		t.Fatalf("expected priority error")
	}
	if err := client.ReorderTasks(context.Background(), nil); err == nil {
		t.Fatalf("expected empty reorder error")
	}
}

func TestTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 5,
		"email":   "x@y.z",
		"role":    "user",
		"exp":     exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := TokenClaims(signed)
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if claims.UserID != 5 || claims.Email != "x@y.z" || !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := TokenClaims("not-a-token"); err == nil {
		t.Fatalf("expected parse error")
	}
}
