package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Execute runs cmd on the remote host and collects its output.
func (c *SSHClient) Execute(ctx context.Context, cmd string) (*ExecResult, error) {
	var stdout, stderr bytes.Buffer
	start := time.Now()

	err := c.run(ctx, "execute", cmd, nil, &stdout, &stderr)

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
	}

	log.Debug().
		Str("command", cmd).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command completed")

	return result, err
}

// Stream runs cmd on the remote host, feeding it stdin when non-nil, and
// copies its output as it arrives.
func (c *SSHClient) Stream(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	return c.run(ctx, "stream", cmd, stdin, stdout, stderr)
}

// Shell attaches an interactive login shell to the given streams. A PTY
// is requested so that job control and line editing work.
func (c *SSHClient) Shell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	session, err := c.newSession("shell")
	if err != nil {
		return err
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 120, modes); err != nil {
		return &TransportError{Op: "shell", Err: fmt.Errorf("failed to request pty: %w", err)}
	}

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Shell(); err != nil {
		return &TransportError{Op: "shell", Err: fmt.Errorf("failed to start shell: %w", err)}
	}
	return c.wait(ctx, "shell", session)
}

func (c *SSHClient) newSession(op string) (*ssh.Session, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          op,
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	return session, nil
}

func (c *SSHClient) run(ctx context.Context, op, cmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	if c.config.CommandTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
			defer cancel()
		}
	}

	session, err := c.newSession(op)
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	log.Debug().Str("command", cmd).Msg("executing command")
	if err := session.Start(cmd); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to start command: %w", err), IsTemporary: true}
	}
	return c.wait(ctx, op, session)
}

// wait blocks until the session ends or ctx is done, in which case the
// remote process is killed.
func (c *SSHClient) wait(ctx context.Context, op string, session *ssh.Session) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return &TransportError{Op: op, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &TransportError{
				Op:  op,
				Err: fmt.Errorf("command exited with code %d: %w", exitErr.ExitStatus(), err),
			}
		}
		return &TransportError{Op: op, Err: err, IsTemporary: true}
	}
}
