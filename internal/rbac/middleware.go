package rbac

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"log/slog"
)

type actorKey struct{}

// ContextWithActor stores the authenticated actor id on the context.
func ContextWithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the authenticated actor id, if present.
func ActorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorKey{}).(int64)
	return id, ok
}

// ActorHeader carries the authenticated user id set by the fronting
// gateway. Authentication itself happens upstream; the engine only
// enforces capability preconditions.
const ActorHeader = "X-Actor-ID"

// Middleware wires capability authorization for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// ResolveActor parses the actor header into the request context. Requests
// without a parseable actor id pass through unauthenticated; Require
// rejects them later.
func (m Middleware) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			if m.Logger != nil {
				m.Logger.Warn("rbac parse actor id", slog.String("value", raw))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), id)))
	})
}

// Require ensures the current actor holds the capability.
func (m Middleware) Require(cap string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			granted, err := m.Service.Can(r.Context(), actorID, cap)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("capability", cap), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !granted {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
