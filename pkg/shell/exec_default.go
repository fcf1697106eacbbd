package shell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

// DefaultExec runs the command on the host
func DefaultExec(ctx context.Context, c *Command) Result {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = environ(c.Env)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	if err := cmd.Start(); err != nil {
		return Result{ExitStatus: 127, Error: err}
	}

	err := cmd.Wait()
	if err == nil {
		return Result{}
	}

	r := Result{ExitStatus: 1, Error: err, TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded)}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.ExitStatus() >= 0 {
			r.ExitStatus = ws.ExitStatus()
		}
	}

	return r
}

func environ(extra map[string]string) []string {
	env := os.Environ()

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}

	return env
}
