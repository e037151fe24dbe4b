package middleware

import (
	"net/http"

	"dashboard-auth/internal/session"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by the adapters.
const (
	ContextKeySession = "session"
	ContextKeyUserID  = "userID"
)

// GinRequireAuth adapts Guard.RequireAuth to Gin.
func GinRequireAuth(g *Guard) gin.HandlerFunc {
	return bridge(g.RequireAuth)
}

// GinRequirePermission adapts Guard.RequirePermission to Gin.
func GinRequirePermission(g *Guard, permission string) gin.HandlerFunc {
	return bridge(func(next http.Handler) http.Handler {
		return g.RequirePermission(permission, next)
	})
}

// GinRequireAnyRole adapts Guard.RequireAnyRole to Gin.
func GinRequireAnyRole(g *Guard, roles ...string) gin.HandlerFunc {
	return bridge(func(next http.Handler) http.Handler {
		return g.RequireAnyRole(roles, next)
	})
}

// GinRequireMembership checks membership of the organization named by the
// route parameter param.
func GinRequireMembership(g *Guard, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param(param)
		bridge(func(next http.Handler) http.Handler {
			return g.RequireMembership(func(*http.Request) string { return orgID }, next)
		})(c)
	}
}

// GinSession returns the session stored by one of the adapters.
func GinSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(ContextKeySession)
	if !ok {
		return SessionFromContext(c.Request.Context())
	}
	s, ok := v.(*session.Session)
	return s, ok && s != nil
}

// bridge runs net/http middleware inside a Gin chain.
func bridge(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			if s, ok := SessionFromContext(r.Context()); ok {
				c.Set(ContextKeySession, s)
				c.Set(ContextKeyUserID, s.UserID)
			}
			c.Next()
		})

		mw(next).ServeHTTP(c.Writer, c.Request)

		// If the middleware already answered, stop the Gin chain
		if c.Writer.Written() && !c.IsAborted() {
			c.Abort()
		}
	}
}
