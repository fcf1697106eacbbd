package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Pipe runs the command with its stdout and stderr connected to the returned readers.
// Both readers reach EOF once the command exits.
func (s *Shell) Pipe(ctx context.Context, cmd *Command) (<-chan Result, io.ReadCloser, io.ReadCloser) {
	res := make(chan Result, 1)

	stdout, stdoutW, err := pipe(&cmd.Stdout)
	if err != nil {
		res <- Result{ExitStatus: 1, Error: fmt.Errorf("unable to pipe stdout: %v", err)}
		return res, nil, nil
	}

	stderr, stderrW, err := pipe(&cmd.Stderr)
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		res <- Result{ExitStatus: 1, Error: fmt.Errorf("unable to pipe stderr: %v", err)}
		return res, nil, nil
	}

	go func() {
		r := s.Wait(ctx, cmd)
		stdoutW.Close()
		stderrW.Close()
		res <- r
	}()

	return res, stdout, stderr
}

func pipe(w *io.Writer) (io.ReadCloser, io.WriteCloser, error) {
	if *w != nil {
		return nil, nil, errors.New("exec: output already set")
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	*w = pw
	return pr, pw, nil
}
