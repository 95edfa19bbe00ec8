package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

func (c *SSHClient) sftpClient(op string) (*sftp.Client, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{
			Op:          op,
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	return sftpClient, nil
}

// Upload writes r to remotePath.
func (c *SSHClient) Upload(ctx context.Context, r io.Reader, remotePath string, mode os.FileMode) (*FileTransferResult, error) {
	start := time.Now()

	sftpClient, err := c.sftpClient("upload")
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err)}
	}
	defer remoteFile.Close()

	n, err := copyWithContext(ctx, remoteFile, r)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}

	if mode != 0 {
		if err := sftpClient.Chmod(remotePath, mode); err != nil {
			return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to set permissions: %w", err)}
		}
	}

	result := &FileTransferResult{BytesTransferred: n, Duration: time.Since(start)}
	log.Debug().
		Str("remote", remotePath).
		Int64("bytes", n).
		Dur("duration", result.Duration).
		Msg("file uploaded")
	return result, nil
}

// Download copies remotePath into w.
func (c *SSHClient) Download(ctx context.Context, remotePath string, w io.Writer) (*FileTransferResult, error) {
	start := time.Now()

	sftpClient, err := c.sftpClient("download")
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to open remote file: %w", err)}
	}
	defer remoteFile.Close()

	n, err := copyWithContext(ctx, w, remoteFile)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}

	result := &FileTransferResult{BytesTransferred: n, Duration: time.Since(start)}
	log.Debug().
		Str("remote", remotePath).
		Int64("bytes", n).
		Dur("duration", result.Duration).
		Msg("file downloaded")
	return result, nil
}

// Remove deletes remotePath.
func (c *SSHClient) Remove(ctx context.Context, remotePath string) error {
	sftpClient, err := c.sftpClient("remove")
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &TransportError{Op: "remove", Err: fmt.Errorf("failed to remove %s: %w", remotePath, err)}
	}
	return nil
}

// copyWithContext copies in chunks so that a cancelled context stops a
// long transfer between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
