package cmdsite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/variantdev/fleet/pkg/shell"
	"k8s.io/klog/klogr"
)

// ErrTimedOut is wrapped by errors of commands killed due to their timeout
var ErrTimedOut = errors.New("command timed out")

type CommandSite struct {
	Shell *shell.Shell

	// Dir is the working directory commands are run in. Empty means the current directory.
	Dir string

	Env map[string]string

	// Timeout bounds every command run by this site. Zero means no timeout other than the caller's context.
	Timeout time.Duration

	Logger logr.Logger

	LookPath func(string) (string, error)
}

type Option func(*CommandSite)

func Exec(e shell.Exec) Option {
	return func(s *CommandSite) {
		if e != nil {
			s.Shell = shell.New(e)
		}
	}
}

func Dir(dir string) Option {
	return func(s *CommandSite) {
		s.Dir = dir
	}
}

func Timeout(d time.Duration) Option {
	return func(s *CommandSite) {
		s.Timeout = d
	}
}

func Logger(l logr.Logger) Option {
	return func(s *CommandSite) {
		s.Logger = l
	}
}

func New(opts ...Option) *CommandSite {
	s := &CommandSite{
		Env: map[string]string{},
	}

	for _, o := range opts {
		o(s)
	}

	if s.Shell == nil {
		s.Shell = shell.New(nil)
	}

	if s.Logger == nil {
		s.Logger = klogr.New()
	}

	if s.LookPath == nil {
		s.LookPath = exec.LookPath
	}

	return s
}

// WithDir returns a copy of the site that runs commands in dir
func (s *CommandSite) WithDir(dir string) *CommandSite {
	site := *s
	site.Dir = dir
	return &site
}

// WithTimeout returns a copy of the site whose commands are bounded by d
func (s *CommandSite) WithTimeout(d time.Duration) *CommandSite {
	site := *s
	site.Timeout = d
	return &site
}

func (s *CommandSite) command(name string, args []string, stdout, stderr io.Writer) *shell.Command {
	return &shell.Command{
		Name:   name,
		Args:   args,
		Dir:    s.Dir,
		Env:    s.Env,
		Stdout: stdout,
		Stderr: stderr,
	}
}

func (s *CommandSite) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *CommandSite) RunCommand(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	ctx, cancel := s.context(ctx)
	defer cancel()

	s.Logger.V(1).Info("running", "cmd", cmdline(name, args), "dir", s.Dir)

	r := s.Shell.Wait(ctx, s.command(name, args, stdout, stderr))

	return s.resultError(name, args, r.Error, r.TimedOut, "")
}

func (s *CommandSite) CaptureStrings(ctx context.Context, binary string, args []string) (string, string, error) {
	stdout, stderr, err := s.CaptureBytes(ctx, binary, args)

	var so, se string

	if stdout != nil {
		so = string(stdout)
	}

	if stderr != nil {
		se = string(stderr)
	}

	return so, se, err
}

func (s *CommandSite) CaptureBytes(ctx context.Context, binary string, args []string) ([]byte, []byte, error) {
	ctx, cancel := s.context(ctx)
	defer cancel()

	s.Logger.V(1).Info("running", "cmd", cmdline(binary, args), "dir", s.Dir)

	var stdout, stderr bytes.Buffer
	r := s.Shell.Wait(ctx, s.command(binary, args, &stdout, &stderr))
	if r.Error != nil {
		s.Logger.V(1).Info(stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), s.resultError(binary, args, r.Error, r.TimedOut, stderr.String())
}

// Stream runs the command and logs every line it prints at V(level).
func (s *CommandSite) Stream(ctx context.Context, level int, binary string, args []string) error {
	ctx, cancel := s.context(ctx)
	defer cancel()

	s.Logger.V(1).Info("running", "cmd", cmdline(binary, args), "dir", s.Dir)

	var lastErr string

	res, err := s.Shell.Capture(ctx, s.command(binary, args, nil, nil), shell.CaptureOpts{
		LogStdout: func(line string) {
			s.Logger.V(level).Info(line, "stream", "stdout")
		},
		LogStderr: func(line string) {
			lastErr = line
			s.Logger.V(level).Info(line, "stream", "stderr")
		},
	})

	var timedOut bool
	if res != nil {
		timedOut = res.TimedOut
	}

	return s.resultError(binary, args, err, timedOut, lastErr)
}

func (s *CommandSite) resultError(name string, args []string, err error, timedOut bool, stderr string) error {
	if err == nil {
		return nil
	}

	if timedOut {
		if s.Timeout > 0 {
			return fmt.Errorf("%s: %w after %s", cmdline(name, args), ErrTimedOut, s.Timeout)
		}
		return fmt.Errorf("%s: %w", cmdline(name, args), ErrTimedOut)
	}

	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("%s: %w: %s", cmdline(name, args), err, msg)
	}

	return fmt.Errorf("%s: %w", cmdline(name, args), err)
}

// Installed reports whether binary can be found in PATH
func (s *CommandSite) Installed(binary string) bool {
	_, err := s.LookPath(binary)
	return err == nil
}

// IsTimeout reports whether err was caused by a command exceeding its timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded)
}

func cmdline(name string, args []string) string {
	return (&shell.Command{Name: name, Args: args}).String()
}
