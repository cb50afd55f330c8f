package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	sessionIDKey  contextKey = "grid_session_id"
	sessionNewKey contextKey = "grid_session_new"
)

// DefaultCookieName is used when the middleware gets no cookie name
const DefaultCookieName = "grid_session"

// CookieOptions configures the session cookie
type CookieOptions struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// Middleware resolves the session id from a cookie and stores it in the
// request context. Requests without a valid cookie get a new id, which
// IsNew reports until the client sends it back.
func Middleware(opts CookieOptions) func(http.Handler) http.Handler {
	if opts.Name == "" {
		opts.Name = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, minted := "", false
			if c, err := r.Cookie(opts.Name); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					id = c.Value
				}
			}
			if id == "" {
				id, minted = uuid.New().String(), true
				http.SetCookie(w, &http.Cookie{
					Name:     opts.Name,
					Value:    id,
					Path:     "/",
					MaxAge:   int(opts.MaxAge.Seconds()),
					Secure:   opts.Secure,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			ctx := WithID(r.Context(), id)
			if minted {
				ctx = context.WithValue(ctx, sessionNewKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithID stores a session id in ctx
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// IDFromContext extracts the session id set by Middleware
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// IsNew reports whether the session id was minted for this request
// rather than read from the client's cookie
func IsNew(ctx context.Context) bool {
	minted, _ := ctx.Value(sessionNewKey).(bool)
	return minted
}
