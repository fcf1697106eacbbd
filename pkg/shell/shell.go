package shell

import "context"

// Shell runs commands through a replaceable Exec, so that callers can be tested without a host.
type Shell struct {
	Exec Exec
}

func New(e Exec) *Shell {
	if e == nil {
		e = DefaultExec
	}
	return &Shell{Exec: e}
}

// Wait runs the command and waits until it returns
func (s *Shell) Wait(ctx context.Context, cmd *Command) Result {
	r := s.Exec(ctx, cmd)
	if r.Error != nil && !r.TimedOut && ctx.Err() == context.DeadlineExceeded {
		r.TimedOut = true
	}
	return r
}
