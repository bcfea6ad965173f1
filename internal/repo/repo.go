package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"stageboard/internal/domain"
)

// Repo is the persistent client storage: session token, logged-in user and
// local preferences.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const PrefCurrentProject = "current_project"

type Session struct {
	BaseURL   string      `json:"base_url"`
	Token     string      `json:"-"`
	User      domain.User `json:"user"`
	CreatedAt time.Time   `json:"created_at"`
}

func (r Repo) SaveSession(ctx context.Context, s Session) error {
	if s.Token == "" {
		return errors.New("token required")
	}
	userJSON, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO sessions(id,base_url,token,user_json,created_at) VALUES (1,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET base_url=excluded.base_url, token=excluded.token, user_json=excluded.user_json, created_at=excluded.created_at`,
		s.BaseURL, s.Token, string(userJSON), s.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r Repo) Session(ctx context.Context) (Session, error) {
	var s Session
	var userJSON, created string
	err := r.DB.QueryRowContext(ctx, `SELECT base_url,token,user_json,created_at FROM sessions WHERE id=1`).
		Scan(&s.BaseURL, &s.Token, &userJSON, &created)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(userJSON), &s.User); err != nil {
		return s, fmt.Errorf("decode session user: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339, created); err == nil {
		s.CreatedAt = ts
	}
	return s, nil
}

// ClearSession removes the token and the stored user.
func (r Repo) ClearSession(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}

// Token returns the stored bearer token, or "" when logged out.
func (r Repo) Token(ctx context.Context) (string, error) {
	s, err := r.Session(ctx)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return s.Token, err
}

func (r Repo) ClearToken(ctx context.Context) error {
	return r.ClearSession(ctx)
}

func (r Repo) SetPreference(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("preference key required")
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO preferences(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r Repo) Preference(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) DeletePreference(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM preferences WHERE key=?`, key)
	return err
}

// CurrentProject returns the project selected with kb project use.
func (r Repo) CurrentProject(ctx context.Context) (int64, error) {
	v, err := r.Preference(ctx, PrefCurrentProject)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored project id %q: %w", v, err)
	}
	return id, nil
}

func (r Repo) SetCurrentProject(ctx context.Context, id int64) error {
	return r.SetPreference(ctx, PrefCurrentProject, strconv.FormatInt(id, 10))
}

// MoveHistory lists journal entries for a project, newest first.
func (r Repo) MoveHistory(ctx context.Context, projectID int64, limit int) ([]domain.MoveRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT id,ts,project_id,task_id,from_stage_id,to_stage_id,position,outcome,COALESCE(error,'')
FROM move_log WHERE project_id=? ORDER BY id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MoveRecord
	for rows.Next() {
		var m domain.MoveRecord
		var ts string
		if err := rows.Scan(&m.ID, &ts, &m.ProjectID, &m.TaskID, &m.FromStageID, &m.ToStageID, &m.Position, &m.Outcome, &m.Error); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.TS = parsed
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
