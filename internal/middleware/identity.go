// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Identity headers set by the POS shell. The shell authenticates the
// operator; the agent only authorizes.
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor is the operator a request acts for.
type Actor struct {
	ID   string
	Role string
}

// ActorFromContext returns the actor stored by RequireActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// ContextWithActor stores a.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// RequireActor rejects requests without both identity headers. onMissing
// writes the rejection so callers keep their response envelope.
func RequireActor(onMissing http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := Actor{
				ID:   strings.TrimSpace(r.Header.Get(ActorIDHeader)),
				Role: strings.ToLower(strings.TrimSpace(r.Header.Get(ActorRoleHeader))),
			}
			if a.ID == "" || a.Role == "" {
				onMissing(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), a)))
		})
	}
}
