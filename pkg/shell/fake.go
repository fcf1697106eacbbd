package shell

import (
	"context"
	"fmt"
	"io"
	"strings"
)

type FakeInput struct {
	Name string
	Args string
	Dir  string
}

type FakeOutput struct {
	Stdout     string
	Stderr     string
	ExitStatus int
	TimedOut   bool
}

func NewFakeInput(name string, args []string, dir string) FakeInput {
	return FakeInput{
		Name: name,
		Args: strings.Join(args, ","),
		Dir:  dir,
	}
}

// NewFake returns an Exec that answers every command from expectations.
// Commands missing from expectations fail with exit status 127.
// A non-zero ExitStatus in the output makes the command fail after its output is written.
func NewFake(expectations map[FakeInput]FakeOutput) Exec {
	return func(ctx context.Context, cmd *Command) Result {
		input := NewFakeInput(cmd.Name, cmd.Args, cmd.Dir)
		output, ok := expectations[input]
		if !ok {
			err := fmt.Errorf("unexpected input: %v", input)
			return Result{ExitStatus: 127, Error: err}
		}

		if err := writeAll(cmd.Stdout, output.Stdout); err != nil {
			return Result{ExitStatus: 1, Error: err}
		}

		if err := writeAll(cmd.Stderr, output.Stderr); err != nil {
			return Result{ExitStatus: 1, Error: err}
		}

		if output.TimedOut {
			return Result{ExitStatus: -1, Error: context.DeadlineExceeded, TimedOut: true}
		}

		if output.ExitStatus != 0 {
			return Result{ExitStatus: output.ExitStatus, Error: fmt.Errorf("exit status %d", output.ExitStatus)}
		}

		return Result{ExitStatus: 0, Error: nil}
	}
}

func writeAll(w io.Writer, s string) error {
	if w == nil || s == "" {
		return nil
	}

	n, err := io.WriteString(w, s)
	if err != nil {
		return err
	}

	if n != len(s) {
		return fmt.Errorf("insufficient write: wrote only %d of %d", n, len(s))
	}

	return nil
}
