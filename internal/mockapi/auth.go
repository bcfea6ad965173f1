package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stageboard/internal/domain"
)

type principal struct {
	UserID int64
	Email  string
	Role   string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (principal, huma.StatusError) {
	if p, ok := ctx.Value(principalKey{}).(principal); ok && p.UserID != 0 {
		return p, nil
	}
	return principal{}, newAPIError(http.StatusUnauthorized, "Authorization header required")
}

type jwtClaims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func signToken(secret string, user domain.User, now time.Time, ttl time.Duration) (string, string, error) {
	jti := uuid.NewString()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return token, jti, err
}

func authenticateJWT(token, secret string, now func() time.Time) (*jwtClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == 0 || claims.ID == "" {
		return nil, errors.New("user_id and jti claims required")
	}
	return claims, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath, secret string, st *state) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):        true,
		path.Join(basePath, "auth/login"):    true,
		path.Join(basePath, "auth/register"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "Authorization header required"))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "Invalid authorization header format"))
				return
			}
			claims, err := authenticateJWT(token, secret, st.now)
			if err != nil || !st.sessionValid(claims.ID, claims.UserID) {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "Invalid token"))
				return
			}
			ctx := withPrincipal(req.Context(), principal{UserID: claims.UserID, Email: claims.Email, Role: claims.Role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body domain.LoginRequest `json:"body"`
	}) (*struct {
		Body domain.LoginResult `json:"body"`
	}, error) {
		user, err := s.st.authenticate(input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, newAPIError(http.StatusUnauthorized, "Invalid email or password")
		}
		token, jti, err := signToken(s.cfg.JWTSecret, user, s.cfg.Now(), s.cfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "Failed to generate token")
		}
		s.st.openSession(jti, user.ID)
		s.cfg.Logger.WithField("user_id", user.ID).Info("user logged in")
		return &struct {
			Body domain.LoginResult `json:"body"`
		}{Body: domain.LoginResult{Token: token, User: user}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "register",
		Method:      http.MethodPost,
		Path:        "/auth/register",
		Summary:     "Create an account",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.RegisterRequest `json:"body"`
	}) (*envelopeOutput, error) {
		if err := input.Body.Validate(); err != nil {
			return nil, newAPIError(http.StatusBadRequest, err.Error())
		}
		user, err := s.st.addUser(input.Body.Username, input.Body.Email, input.Body.Password, "user")
		if err != nil {
			return nil, handleError(err)
		}
		s.st.joinSampleProject(user.ID)
		return ok(map[string]any{"message": "User registered successfully", "user": user})
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*envelopeOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		user, err := s.st.user(p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(map[string]any{"user": user})
	})
}
