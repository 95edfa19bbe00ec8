// Package ssh runs commands on instances and moves files to and from them
// over SSH and SFTP.
package ssh

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// Transport is what a resource needs from a connected instance.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Execute runs cmd and collects its output. A non-zero exit status is
	// reported in ExecResult.ExitCode and as a TransportError.
	Execute(ctx context.Context, cmd string) (*ExecResult, error)

	// Stream runs cmd with an optional stdin, copying output as it
	// arrives.
	Stream(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) error

	// Shell attaches an interactive login shell to the streams.
	Shell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error

	// Upload writes r to remotePath, creating parent directories. mode is
	// applied when non-zero.
	Upload(ctx context.Context, r io.Reader, remotePath string, mode os.FileMode) (*FileTransferResult, error)

	Download(ctx context.Context, remotePath string, w io.Writer) (*FileTransferResult, error)

	// Remove deletes remotePath. A missing file is not an error.
	Remove(ctx context.Context, remotePath string) error
}

// ExecResult is the outcome of one command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// FileTransferResult is the outcome of one upload or download.
type FileTransferResult struct {
	BytesTransferred int64
	Duration         time.Duration
}

// TransportError wraps a failure of one transport operation.
type TransportError struct {
	// Op names the failed operation: "connect", "exec", "upload", ...
	Op  string
	Err error

	// IsTemporary marks failures worth retrying, such as a refused
	// connection while an instance is still booting.
	IsTemporary bool

	// IsAuthError marks a rejected key or an unparsable one.
	IsAuthError bool
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is a TransportError worth retrying.
func IsTemporary(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.IsTemporary
}
