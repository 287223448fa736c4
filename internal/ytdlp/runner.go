package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// execCommand is swapped in tests.
var execCommand = exec.CommandContext

const maxLineSize = 1024 * 1024

// Runner executes the downloader binary.
type Runner interface {
	// Output runs the command to completion and returns stdout. Stderr is attached to the error.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Stream runs the command and calls onLine for every line of combined stdout and stderr.
	// It returns the process exit code.
	Stream(ctx context.Context, name string, args []string, onLine func(line string)) (int, error)
}

// ExitError is a non-zero exit of the downloader with whatever it printed on stderr.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{Code: exitErr.ExitCode(), Stderr: string(bytes.TrimSpace(stderr.Bytes()))}
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

func (ExecRunner) Stream(ctx context.Context, name string, args []string, onLine func(line string)) (int, error) {
	cmd := execCommand(ctx, name, args...)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	if scanner.Err() != nil {
		// keep the pipe drained so Wait does not block on a full buffer
		_, _ = io.Copy(io.Discard, pipe)
	}

	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, scanner.Err()
}
