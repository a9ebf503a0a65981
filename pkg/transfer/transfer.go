// Package transfer moves files between the host and the device over
// interchangeable backends.
//
// Every backend implements FileTransport. A Registry maps backend names to
// constructors and Resilient decorates any backend with reconnect-and-retry
// on transient failures.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
)

var (
	// ErrNotConnected is returned by operations attempted without a live session.
	ErrNotConnected = errors.New("transfer: not connected")
	// ErrUnsupported is returned by operations a backend does not implement.
	ErrUnsupported = errors.New("transfer: operation not supported by backend")
	// ErrUnknownBackend is returned when no backend is registered under a name.
	ErrUnknownBackend = errors.New("transfer: unknown backend")
	// ErrTimeout is returned when an operation exceeds its time bound.
	ErrTimeout = errors.New("transfer: operation timed out")
)

// FileTransport is a session to the device's file system.
// A transport owns a single session; calls on one instance must be serialized
// by the caller.
type FileTransport interface {
	// Connect opens the session.
	Connect(ctx context.Context) error
	// Disconnect closes the session. It is a no-op when not connected.
	Disconnect(ctx context.Context) error
	// Send uploads the local file or directory tree to remote.
	Send(ctx context.Context, local string, remote Target) error
	// Get downloads remote to the local file.
	Get(ctx context.Context, remote Target, local string) error
	// GetBytes returns the content of remote.
	GetBytes(ctx context.Context, remote Target) ([]byte, error)
	// Delete removes remote.
	Delete(ctx context.Context, remote Target) error
	// Stat returns metadata about remote.
	Stat(ctx context.Context, remote Target) (fs.FileInfo, error)
	// Exists reports whether remote exists.
	Exists(ctx context.Context, remote Target) (bool, error)
	// Mkdir creates the remote directory unless it already exists.
	Mkdir(ctx context.Context, remote Target) error
}

// FileSender is implemented by transports that upload a single file to an
// exact target, without the directory guess Send applies.
type FileSender interface {
	SendFile(ctx context.Context, local string, remote Target) error
}

// TransientError marks a failure of the channel itself (dropped connection,
// stalled session) that a reconnect may cure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. It returns nil when err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is eligible for a reconnect and retry.
// Caller cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOTCONN) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
