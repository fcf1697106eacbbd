package shell

import (
	"context"
	"io"
	"strings"
)

// Command is a single invocation of an external program such as git or docker
type Command struct {
	Name string
	Args []string

	// Env is added on top of the environment of the current process
	Env map[string]string

	// Dir is the working directory of this command
	Dir string

	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

func (c *Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Exec runs a command to completion. Implementations must not return before the command exits.
type Exec func(ctx context.Context, cmd *Command) Result

type Result struct {
	ExitStatus int
	Error      error

	// TimedOut is true when the command was killed because the context deadline was exceeded
	TimedOut bool
}
