package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/radieske/updown-round-engine/internal/shared/apperr"
	"github.com/radieske/updown-round-engine/internal/shared/httpx"
)

type ctxKey string

const (
	ctxUserIDKey ctxKey = "uid"
	ctxRoleKey   ctxKey = "role"
)

const AdminHeader = "X-Admin-Token"

func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxUserIDKey).(string)
	return v, ok && v != ""
}

func Role(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRoleKey).(string)
	return v, ok
}

// WithUser injeta a identidade no contexto (usado pelo middleware e em testes)
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserIDKey, userID)
	return context.WithValue(ctx, ctxRoleKey, role)
}

// User exige Authorization: Bearer <JWT>
func User(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := r.Header.Get("Authorization")
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, apperr.Code(apperr.ErrUnauthorized), "missing bearer token", nil)
				return
			}
			claims, err := tm.Parse(strings.TrimSpace(ah[len("Bearer "):]))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, apperr.Code(apperr.ErrUnauthorized), "invalid access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.Role)))
		})
	}
}

// Admin exige o header X-Admin-Token válido
func Admin(v *AdminVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Verify(r.Header.Get(AdminHeader)); err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
