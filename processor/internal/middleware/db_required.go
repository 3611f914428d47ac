package middleware

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"assettrack/shared/httpx"
)

// DBRequiredMiddleware rejects data-path requests outright when the service
// came up without a database, instead of letting every handler fail one
// query deep. Infra endpoints pass through via Skip.
type DBRequiredMiddleware struct {
	Pool *pgxpool.Pool
	Skip func(*http.Request) bool
}

func (m DBRequiredMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Pool == nil {
			w.Header().Set("Retry-After", "30")
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "database not configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
