// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected matches every *NotConnectedError.
	ErrNotConnected = errors.New("remote storage not connected")

	// ErrObjectNotFound is returned when the addressed object does not exist.
	ErrObjectNotFound = errors.New("remote object not found")
)

// NotConnectedError is returned when an operation needs a credential the
// agent does not have (never authorized, disconnected, or revoked).
type NotConnectedError struct {
	Op  string
	Err error
}

func (e *NotConnectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: not connected: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s: not connected", e.Op)
}

// Is lets errors.Is(err, ErrNotConnected) match.
func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

func (e *NotConnectedError) Unwrap() error {
	return e.Err
}

// APIError is a non-success HTTP response from the provider.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotConnected reports whether err means the store has no usable credential.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
