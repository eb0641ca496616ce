// Package identity resolves which player a request belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"

	"github.com/ashureev/rallycoach/internal/domain"
)

const (
	// PlayerHeaderName carries the player's email.
	PlayerHeaderName = "X-Coach-Player"
	// PlayerQueryParam is accepted where headers cannot be set, such as websocket upgrades.
	PlayerQueryParam = "email"
)

type contextKey int

const playerEmailKey contextKey = iota

var emailPattern = regexp.MustCompile(`^[^@\s]{1,64}@[^@\s]{1,255}\.[^@\s]{1,63}$`)

// PlayerEmailFromContext returns the normalized player email, or "".
func PlayerEmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(playerEmailKey).(string); ok {
		return v
	}
	return ""
}

// WithPlayerEmail stores a normalized email in ctx.
func WithPlayerEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, playerEmailKey, domain.NormalizeEmail(email))
}

// ValidEmail reports whether email looks like an address after normalization.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(domain.NormalizeEmail(email))
}

func emailFromRequest(r *http.Request) string {
	email := r.Header.Get(PlayerHeaderName)
	if email == "" {
		email = r.URL.Query().Get(PlayerQueryParam)
	}
	email = domain.NormalizeEmail(email)
	if !ValidEmail(email) {
		return ""
	}
	return email
}

// Middleware attaches the player email from the header or query string.
// Requests without a valid email pass through with none set; handlers
// decide whether one is required.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if email := emailFromRequest(r); email != "" {
				r = r.WithContext(WithPlayerEmail(r.Context(), email))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
