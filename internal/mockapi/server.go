package mockapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const successCode = 200

// Config for the mock API handler.
type Config struct {
	BasePath  string
	JWTSecret string
	TokenTTL  time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost. Tests lower it.
	BcryptCost    int
	AdminEmail    string
	AdminPassword string
	// Seed creates the sample project on start.
	Seed   bool
	Logger *log.Logger
	Now    func() time.Time
}

// Server is an in-memory kanban backend speaking the envelope contract.
type Server struct {
	cfg     Config
	st      *state
	handler http.Handler
}

// envelope is the success and error body of every route except login.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type envelopeOutput struct {
	Body envelope `json:"body"`
}

func ok(data any) (*envelopeOutput, error) {
	return &envelopeOutput{Body: envelope{Code: successCode, Message: "success", Data: data}}, nil
}

// apiError renders as {code, message} with the HTTP status as code.
type apiError struct {
	status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &apiError{status: status, Code: status, Message: message}
}

var (
	errNotFound  = errors.New("not found")
	errForbidden = errors.New("forbidden")
)

// invalidError is a request the backend refuses with 400.
type invalidError struct{ msg string }

func (e invalidError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return invalidError{msg: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, errNotFound)
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ie invalidError
	switch {
	case errors.As(err, &ie):
		return newAPIError(http.StatusBadRequest, ie.msg)
	case errors.Is(err, errNotFound):
		return newAPIError(http.StatusNotFound, capitalize(err.Error()))
	case errors.Is(err, errForbidden):
		return newAPIError(http.StatusForbidden, capitalize(err.Error()))
	default:
		return newAPIError(http.StatusInternalServerError, "Internal server error: "+err.Error())
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// New returns a mock API server.
func New(cfg Config) (*Server, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "/api"
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		cfg.BasePath = "/" + cfg.BasePath
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg, st: newState(cfg.Now, cfg.BcryptCost)}
	if cfg.AdminEmail != "" {
		if _, err := s.st.addUser("admin", cfg.AdminEmail, cfg.AdminPassword, "admin"); err != nil {
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}
	if cfg.Seed {
		if err := s.st.seed(); err != nil {
			return nil, fmt.Errorf("seed sample project: %w", err)
		}
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, joinErrors(msg, errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request validation is a 400 on this backend
			status = http.StatusBadRequest
		}
		return newAPIError(status, joinErrors(msg, errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(cfg.BasePath, cfg.JWTSecret, s.st))
	hcfg := huma.DefaultConfig("Stageboard mock API", "1.0.0")
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, cfg.BasePath)

	registerHealth(group)
	registerAuth(group, s)
	registerProjects(group, s.st)
	registerStages(group, s.st)
	registerTasks(group, s.st)
	registerComments(group, s.st)
	registerAnalytics(group, s.st)

	s.handler = router
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// AddUser registers an account directly, bypassing the HTTP surface.
func (s *Server) AddUser(username, email, password, role string) error {
	_, err := s.st.addUser(username, email, password, role)
	return err
}

// FailMoves makes the next n move requests fail with a 500.
func (s *Server) FailMoves(n int) {
	s.st.mu.Lock()
	s.st.faults.failMoves = n
	s.st.mu.Unlock()
}

// PinMovePosition makes the server store every moved task at pos,
// whatever position the client asked for.
func (s *Server) PinMovePosition(pos int) {
	s.st.mu.Lock()
	s.st.faults.pinPosition = &pos
	s.st.mu.Unlock()
}

// DelayMoves holds every move request for d before answering.
func (s *Server) DelayMoves(d time.Duration) {
	s.st.mu.Lock()
	s.st.faults.moveDelay = d
	s.st.mu.Unlock()
}

// ResetFaults clears every injected fault.
func (s *Server) ResetFaults() {
	s.st.mu.Lock()
	s.st.faults = faults{}
	s.st.mu.Unlock()
}

// RevokeSessions invalidates every issued token.
func (s *Server) RevokeSessions() {
	s.st.mu.Lock()
	s.st.sessions = make(map[string]int64)
	s.st.mu.Unlock()
}

func joinErrors(msg string, errs []error) string {
	var parts []string
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(parts, "; ")
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqID := middleware.GetReqID(r.Context())
			if reqID != "" {
				ww.Header().Set(middleware.RequestIDHeader, reqID)
			}
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"request_id":  reqID,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request")
		})
	}
}
