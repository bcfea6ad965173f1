package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"stageboard/internal/board"
	"stageboard/internal/bus"
	"stageboard/internal/config"
	"stageboard/internal/db"
	"stageboard/internal/domain"
	"stageboard/internal/events"
	"stageboard/internal/gateway"
	"stageboard/internal/migrate"
	"stageboard/internal/policy"
	"stageboard/internal/repo"
)

// ErrNoProject means neither a flag nor a stored preference names a project.
var ErrNoProject = errors.New("project not specified; use --project or kb project use <id>")

// Workspace is an opened client workspace: config, session store, move
// journal and the notification bus.
type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *bus.Bus
	Logger *log.Logger
}

// NewLogger builds a text logger at level writing to w.
func NewLogger(level string, w io.Writer) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(w)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(lvl)
	return logger, nil
}

// Open loads the workspace config and opens the migrated session store.
func Open(ctx context.Context, dir string, logger *log.Logger) (*Workspace, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return &Workspace{
		Dir:    dir,
		Config: cfg,
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Bus:    bus.New(),
		Logger: logger,
	}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// BaseURL picks the API root: the override, then the URL the stored session
// logged in to, then the config.
func (w *Workspace) BaseURL(ctx context.Context, override string) string {
	if override != "" {
		return override
	}
	if s, err := w.Repo.Session(ctx); err == nil && s.BaseURL != "" {
		return s.BaseURL
	}
	return w.Config.API.BaseURL
}

// Client returns a gateway client reading its token from the session store.
// A 401 clears the session and publishes SessionInvalidated.
func (w *Workspace) Client(ctx context.Context, baseURL string) *gateway.Client {
	c := gateway.New(w.BaseURL(ctx, baseURL), w.Repo)
	if w.Config.API.Timeout > 0 {
		c.Timeout = w.Config.API.Timeout
	}
	c.Logger = w.Logger
	c.OnUnauthorized = func() {
		w.Logger.Warn("session expired, please log in again")
		w.Bus.Publish(bus.Event{Kind: bus.SessionInvalidated})
	}
	return c
}

// Policy is the configured permission policy.
func (w *Workspace) Policy() policy.Policy {
	return policy.FromRoles(w.Config.Policy.AllowWithoutRole, w.Config.Policy.Roles)
}

// Principal describes the logged-in user acting on project.
func (w *Workspace) Principal(ctx context.Context, project domain.Project) (*policy.Principal, error) {
	s, err := w.Repo.Session(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, gateway.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &policy.Principal{UserID: s.User.ID, SystemRole: s.User.Role, ProjectRole: project.UserRole}, nil
}

// ResolveProject returns override when set, else the stored current project.
func (w *Workspace) ResolveProject(ctx context.Context, override int64) (int64, error) {
	if override > 0 {
		return override, nil
	}
	id, err := w.Repo.CurrentProject(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrNoProject
	}
	return id, err
}

// OpenBoard opens the board of a project with the caller's role applied.
func (w *Workspace) OpenBoard(ctx context.Context, client *gateway.Client, projectID int64) (*board.View, domain.Project, error) {
	project, err := client.Project(ctx, projectID)
	if err != nil {
		return nil, project, err
	}
	who, err := w.Principal(ctx, project)
	if err != nil {
		return nil, project, err
	}
	pol := w.Policy()
	view, err := board.Open(ctx, client, projectID, board.Options{
		Policy:    &pol,
		Principal: who,
		Bus:       w.Bus,
		Journal:   w.Events,
		Logger:    w.Logger,
	})
	return view, project, err
}

// Login authenticates against baseURL and stores the session.
func (w *Workspace) Login(ctx context.Context, baseURL, email, password string) (repo.Session, error) {
	client := w.Client(ctx, baseURL)
	res, err := client.Login(ctx, email, password)
	if err != nil {
		return repo.Session{}, err
	}
	s := repo.Session{BaseURL: client.BaseURL, Token: res.Token, User: res.User}
	if err := w.Repo.SaveSession(ctx, s); err != nil {
		return s, fmt.Errorf("store session: %w", err)
	}
	w.Logger.WithFields(log.Fields{"user_id": res.User.ID, "base_url": client.BaseURL}).Debug("session stored")
	return s, nil
}
