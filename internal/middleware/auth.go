package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"dashboard-auth/internal/authority"
	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/session"
)

const CodeForbidden = "FORBIDDEN"

// unexported, collision-proof context key
type sessionContextKeyType struct{}

var sessionKey = sessionContextKeyType{}

// SessionFromContext extracts the validated session from context.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// Validator resolves a bearer token to a live session.
type Validator interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
}

// Guard authenticates requests against the session authority and gates
// handlers on what the resolved session may do.
type Guard struct {
	validator      Validator
	internalHeader string
}

// NewGuard creates a guard. internalHeader names a header set only by
// trusted internal callers; empty disables it.
func NewGuard(v Validator, internalHeader string) *Guard {
	return &Guard{validator: v, internalHeader: internalHeader}
}

// TokenFromRequest returns the first token present in, in order, the
// internal header, the session cookie and an Authorization Bearer header.
func (g *Guard) TokenFromRequest(r *http.Request) string {
	if g.internalHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(g.internalHeader)); v != "" {
			return v
		}
	}
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "bearer "
	if h := strings.TrimSpace(r.Header.Get("Authorization")); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// Authenticate extracts and validates the request's token. The returned
// error is always an *authority.Error.
func (g *Guard) Authenticate(r *http.Request) (*session.Session, error) {
	token := g.TokenFromRequest(r)
	if token == "" {
		return nil, authority.NewError(authority.CodeSessionNotFound, "missing session token")
	}
	return g.validator.Validate(r.Context(), token)
}

func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := g.Authenticate(r)
		if err != nil {
			// every validation failure is an authentication failure here
			WriteError(w, http.StatusUnauthorized, authority.CodeOf(err), authority.MessageOf(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// RequirePermission composes RequireAuth with a permission check.
func (g *Guard) RequirePermission(permission string, next http.Handler) http.Handler {
	return g.require(func(s *session.Session, _ *http.Request) bool {
		return s.HasPermission(permission)
	}, "missing permission "+permission, next)
}

// RequireAnyRole admits sessions holding at least one of roles in their
// current organization.
func (g *Guard) RequireAnyRole(roles []string, next http.Handler) http.Handler {
	return g.require(func(s *session.Session, _ *http.Request) bool {
		return s.HasAnyRole(roles...)
	}, "requires one of roles "+strings.Join(roles, ", "), next)
}

// RequireMembership admits sessions whose user belongs to the organization
// orgID extracts from the request, whatever the current organization is.
func (g *Guard) RequireMembership(orgID func(*http.Request) string, next http.Handler) http.Handler {
	return g.require(func(s *session.Session, r *http.Request) bool {
		return s.IsMemberOf(orgID(r))
	}, "not a member of the organization", next)
}

func (g *Guard) require(allowed func(*session.Session, *http.Request) bool, reason string, next http.Handler) http.Handler {
	return g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := SessionFromContext(r.Context())
		if !allowed(s, r) {
			logger.Warn("request forbidden", map[string]any{
				"user_id": s.UserID,
				"org_id":  s.CurrentOrgID,
				"path":    r.URL.Path,
				"reason":  reason,
			})
			WriteError(w, http.StatusForbidden, CodeForbidden, reason)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes the JSON error body shared by every endpoint.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
