package file

import (
	"context"
	"net/http"
	"time"

	"github.com/openfroyo/spinup/pkg/engine"
)

// DefaultTimeout bounds a remote command or a file copy when the caller
// does not set one.
const DefaultTimeout = 60 * time.Second

// Command is a program run on a host.
type Command struct {
	// Args is the program and its arguments. They are quoted for the
	// remote shell.
	Args []string

	// Dir is the working directory, relative to the login directory when
	// not absolute.
	Dir string

	// Stdin is fed to the program when non-nil.
	Stdin []byte

	// Timeout bounds the command. Zero means DefaultTimeout and a
	// negative value means no limit.
	Timeout time.Duration
}

// Host is a machine that runs commands and stores files. Remote files
// name their host through a reference, so any resource implementing Host
// can be the target of a Transfer.
type Host interface {
	engine.Resource

	// Execute runs cmd and streams its output to the operator.
	Execute(ctx context.Context, cmd Command) error

	// Put stores contents at the location dst describes.
	Put(ctx context.Context, contents []byte, dst *RemoteFile) error

	// Get reads the file src describes.
	Get(ctx context.Context, src *RemoteFile) ([]byte, error)

	// Delete removes the file target describes.
	Delete(ctx context.Context, target *RemoteFile) error
}

type httpClientKey struct{}

// WithHTTPClient returns a context whose web fetches use client.
func WithHTTPClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, httpClientKey{}, client)
}

// HTTPClientFromContext returns the client set by WithHTTPClient, or
// http.DefaultClient.
func HTTPClientFromContext(ctx context.Context) *http.Client {
	if client, ok := ctx.Value(httpClientKey{}).(*http.Client); ok && client != nil {
		return client
	}
	return http.DefaultClient
}
