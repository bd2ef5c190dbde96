// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/shelfguard/internal/authz"
	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/remote"
)

// authStateTTL bounds how long a consent link stays usable.
const authStateTTL = 15 * time.Minute

// ErrInvalidAuthState is returned for an unknown or expired OAuth state.
var ErrInvalidAuthState = errors.New("invalid or expired authorization state")

type authState struct {
	actorID string
	expires time.Time
}

type authStates struct {
	mu     sync.Mutex
	states map[string]authState
}

func (s *authStates) issue(actorID string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]authState)
	}
	for k, v := range s.states {
		if now.After(v.expires) {
			delete(s.states, k)
		}
	}
	state := uuid.NewString()
	s.states[state] = authState{actorID: actorID, expires: now.Add(authStateTTL)}
	return state
}

// consume returns the actor that requested state, once.
func (s *authStates) consume(state string, now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.states[state]
	if !ok {
		return "", false
	}
	delete(s.states, state)
	if now.After(v.expires) {
		return "", false
	}
	return v.actorID, true
}

// RemoteConnected reports whether the remote store holds a credential.
func (m *Manager) RemoteConnected() bool {
	return m.deps.Remote != nil && m.deps.Remote.IsConnected()
}

func (m *Manager) authenticator() (remote.Authenticator, error) {
	if m.deps.Remote == nil {
		return nil, ErrRemoteDisabled
	}
	auth, ok := remote.AsAuthenticator(m.deps.Remote)
	if !ok {
		return nil, errors.New("remote store does not support authorization")
	}
	return auth, nil
}

// AuthorizationURL starts the consent flow for actorID. The returned URL
// carries a one-time state that CompleteAuthorization checks.
func (m *Manager) AuthorizationURL(actorID, role string) (string, error) {
	if err := m.authorize(actorID, role, authz.ObjectRemote, authz.ActionConnect); err != nil {
		return "", err
	}
	auth, err := m.authenticator()
	if err != nil {
		return "", err
	}
	state := m.authStates.issue(actorID, m.deps.Clock.Now())
	return auth.AuthCodeURL(state), nil
}

// CompleteAuthorization exchanges the code from the consent redirect. On
// success the credential is persisted by the remote store and the drain
// loop is woken so queued backups go out. It returns the actor who started
// the flow.
func (m *Manager) CompleteAuthorization(ctx context.Context, state, code string) (string, error) {
	actorID, ok := m.authStates.consume(state, m.deps.Clock.Now())
	if !ok {
		return "", ErrInvalidAuthState
	}
	auth, err := m.authenticator()
	if err != nil {
		return "", err
	}
	if err := auth.Exchange(ctx, code); err != nil {
		return "", fmt.Errorf("complete authorization: %w", err)
	}

	m.needsReconcile.Store(true)
	m.audit(ctx, actorID, AuditRemoteConnected, "")
	if m.reconnect != nil {
		m.reconnect()
	}
	return actorID, nil
}

// DisconnectRemote forgets the remote credential. Remote objects stay.
func (m *Manager) DisconnectRemote(ctx context.Context, actorID, role string) error {
	if err := m.authorize(actorID, role, authz.ObjectRemote, authz.ActionConnect); err != nil {
		return err
	}
	auth, err := m.authenticator()
	if err != nil {
		return err
	}
	if err := auth.Disconnect(ctx); err != nil {
		return err
	}
	m.audit(ctx, actorID, AuditRemoteDisconnected, "")
	logging.Info().Str("actor_id", actorID).Msg("Remote storage disconnected")
	return nil
}
