package session

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when no session exists yet.
var ErrNotInitialized = errors.New("speaker not initialized")

// AuthError means the control credential could not be acquired or refreshed.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("speaker auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ConnectionError means the transport to the device could not be established.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to speaker %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DisconnectionError means the remote teardown failed. The session has been
// cleared anyway.
type DisconnectionError struct {
	DeviceID string
	Err      error
}

func (e *DisconnectionError) Error() string {
	return fmt.Sprintf("disconnect from speaker %s: %v", e.DeviceID, e.Err)
}

func (e *DisconnectionError) Unwrap() error {
	return e.Err
}
