package apistub

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/nuamclient/internal/logger"
)

type ctxKey string

const userKey ctxKey = "user"

func newContextWithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func userFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Request is one journal entry of a served request
type Request struct {
	Method string
	Path   string
	Status int

	// Request carried a bearer token, valid or not
	Bearer bool
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.size += n
	return n, err
}

func (w *statusWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
	w.status = code
}

// Journals every answered request and logs it
func (s *Server) journalMiddleware(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			entry := Request{
				Method: r.Method,
				Path:   r.URL.Path,
				Status: sw.status,
				Bearer: strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "),
			}
			s.mu.Lock()
			s.journal = append(s.journal, entry)
			s.mu.Unlock()

			l.Debug("Request served",
				"method", entry.Method,
				"path", entry.Path,
				"status", entry.Status,
				"size", sw.size,
				"duration", time.Since(start),
			)
		})
	}
}

// Counts hits and answers injected failures before routing
func (s *Server) trackMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := s.hit(r.URL.Path); ok {
			renderDetail(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			renderDetail(w, "Given token not valid for any token type", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(newContextWithUser(r.Context(), user)))
	})
}

func (s *Server) authenticate(r *http.Request) (User, bool) {
	access, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || access == "" {
		return User{}, false
	}

	userID, err := s.tokens.ParseAccess(access)
	if err != nil {
		return User{}, false
	}

	return s.user(userID)
}

// Only users with one of the roles (or superusers) pass
func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := userFromContext(r.Context())
			if !user.Profile().Allowed(toRoles(roles)...) {
				renderDetail(w, "Usted no tiene permiso para realizar esta acción.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
