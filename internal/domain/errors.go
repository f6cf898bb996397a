package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed means the transport could not be established at all.
	// It is the only connect failure that triggers the WebSocket fallback.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrConnectionDropped means an established transport went away.
	ErrConnectionDropped = errors.New("connection dropped")

	ErrConfigurationMissing = errors.New("configuration missing")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
)

// ErrTransport wraps failures of the device messaging channel.
type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *ErrTransport) Unwrap() error {
	return e.Err
}

// ErrProtocol wraps malformed inbound payloads.
type ErrProtocol struct {
	Op  string
	Err error
}

func (e *ErrProtocol) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ErrProtocol) Unwrap() error {
	return e.Err
}

type ErrExecution struct {
	Op  string
	Err error
}

func (e *ErrExecution) Error() string {
	return fmt.Sprintf("execution %s: %v", e.Op, e.Err)
}

func (e *ErrExecution) Unwrap() error {
	return e.Err
}

// ErrIntegrity is returned when a binary cannot be proven to match its
// published digest. Callers must not run the binary.
type ErrIntegrity struct {
	Op   string
	Path string
	Err  error
}

func (e *ErrIntegrity) Error() string {
	return fmt.Sprintf("integrity %s [%s]: %v", e.Op, e.Path, e.Err)
}

func (e *ErrIntegrity) Unwrap() error {
	return e.Err
}

type ErrConfiguration struct {
	Op  string
	Err error
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Op, e.Err)
}

func (e *ErrConfiguration) Unwrap() error {
	return e.Err
}
