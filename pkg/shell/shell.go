// Package shell runs PostgreSQL client binaries (psql, pg_dump) and
// captures their output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/block/pgcutover/pkg/dbconn"
	"golang.org/x/sync/errgroup"
)

const maxStderr = 4096

// Runner runs one command line with stdin as its input and returns the
// lines it printed on stdout.
type Runner interface {
	Run(ctx context.Context, argv []string, stdin string) ([]string, error)
}

// Piper streams the stdout of producer into the stdin of consumer.
type Piper interface {
	Pipe(ctx context.Context, producer, consumer []string) error
}

// ExitError is returned when a command fails. Argv is already redacted.
type ExitError struct {
	Argv   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func newExitError(argv []string, stderr string, err error) *ExitError {
	redacted := make([]string, len(argv))
	for i, a := range argv {
		redacted[i] = dbconn.Redact(a)
	}
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxStderr {
		stderr = "..." + stderr[len(stderr)-maxStderr:]
	}
	return &ExitError{Argv: redacted, Stderr: dbconn.Redact(stderr), Err: err}
}

// Exec implements Runner and Piper with os/exec.
type Exec struct {
	// Env is appended to the current environment of every command.
	Env []string
}

var (
	_ Runner = (*Exec)(nil)
	_ Piper  = (*Exec)(nil)
)

func (e *Exec) command(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	return cmd
}

func (e *Exec) Run(ctx context.Context, argv []string, stdin string) ([]string, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}
	var stdout, stderr bytes.Buffer
	cmd := e.command(ctx, argv)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, newExitError(argv, stderr.String(), err)
	}
	return Lines(stdout.String()), nil
}

// Pipe runs producer | consumer. If the producer fails, the consumer is
// killed before its stdin is closed, so it never sees a clean EOF after a
// truncated stream. A non-zero exit on either side is an error.
func (e *Exec) Pipe(ctx context.Context, producer, consumer []string) error {
	if len(producer) == 0 || len(consumer) == 0 {
		return errors.New("empty command line")
	}
	g, gctx := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	var consumerErr bytes.Buffer
	cons := e.command(gctx, consumer)
	cons.Stdin = pr
	cons.Stdout = io.Discard
	cons.Stderr = &consumerErr
	if err := cons.Start(); err != nil {
		return newExitError(consumer, "", err)
	}

	g.Go(func() error {
		err := cons.Wait()
		_ = pr.CloseWithError(io.ErrClosedPipe) // unblock a producer still writing
		if err != nil {
			return newExitError(consumer, consumerErr.String(), err)
		}
		return nil
	})
	g.Go(func() error {
		var producerErr bytes.Buffer
		prod := e.command(gctx, producer)
		prod.Stdout = pw
		prod.Stderr = &producerErr
		if err := prod.Run(); err != nil {
			_ = cons.Process.Kill()
			_ = pw.CloseWithError(err)
			return newExitError(producer, producerErr.String(), err)
		}
		return pw.Close()
	})
	return g.Wait()
}

// Lines splits command output into lines, dropping the trailing newline.
func Lines(out string) []string {
	out = strings.TrimRight(out, "\r\n")
	if out == "" {
		return []string{}
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
