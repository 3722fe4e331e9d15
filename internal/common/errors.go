// Package common defines shared constants and sentinel errors used across
// the sync layer. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound   = errors.New("not found")
	ErrorNotPending = errors.New("record is not local-pending")

	// Connection / auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotConnected = errors.New("not connected")

	// Transport gave up after the configured number of reconnect attempts.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
