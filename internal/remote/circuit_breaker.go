// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
)

// BreakerSettings tunes BreakerStore. Zero values use the defaults below.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// BreakerStore stops hammering a provider that keeps failing. While the
// breaker is open, calls fail fast with gobreaker.ErrOpenState and the
// backup layer treats them like any other upload failure (the entry
// stays queued).
//
// Missing credentials and missing objects are answers, not provider
// faults, so they never count toward tripping the breaker.
type BreakerStore struct {
	store Store
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// NewBreakerStore wraps store.
func NewBreakerStore(store Store, s BreakerSettings) *BreakerStore {
	if s.Name == "" {
		s.Name = "remote-storage"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval == 0 {
		s.Interval = 5 * time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Minute
	}
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}

	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("[CIRCUIT BREAKER] Opening remote storage circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrObjectNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &BreakerStore{store: store, cb: cb, name: s.Name}
}

func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		logging.Debug().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	return stateToString(b.cb.State())
}

// Upload implements Store.
func (b *BreakerStore) Upload(ctx context.Context, localPath, name string) (UploadResult, error) {
	return castResult[UploadResult](b.execute(func() (any, error) {
		return b.store.Upload(ctx, localPath, name)
	}))
}

// List implements Store.
func (b *BreakerStore) List(ctx context.Context) ([]Object, error) {
	return castResult[[]Object](b.execute(func() (any, error) {
		return b.store.List(ctx)
	}))
}

// Delete implements Store.
func (b *BreakerStore) Delete(ctx context.Context, remoteID string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.store.Delete(ctx, remoteID)
	})
	return err
}

// Download implements Store.
func (b *BreakerStore) Download(ctx context.Context, name, destPath string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.store.Download(ctx, name, destPath)
	})
	return err
}

// IsConnected implements Store. It does not go through the breaker.
func (b *BreakerStore) IsConnected() bool {
	return b.store.IsConnected()
}

// Authenticator returns the wrapped store's consent flow, if it has one.
func (b *BreakerStore) Authenticator() (Authenticator, bool) {
	a, ok := b.store.(Authenticator)
	return a, ok
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
