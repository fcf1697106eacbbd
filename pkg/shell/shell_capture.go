package shell

import (
	"bufio"
	"context"
	"io"
	"strings"
)

type CaptureResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	TimedOut   bool
}

type CaptureOpts struct {
	LogStdout func(string)
	LogStderr func(string)
}

// Capture runs the command, calling the log funcs on every line it prints while also
// collecting all lines for the result.
func (s *Shell) Capture(ctx context.Context, cmd *Command, opts ...CaptureOpts) (*CaptureResult, error) {
	logStdout := func(_ string) {}
	logStderr := func(_ string) {}

	for _, o := range opts {
		if o.LogStdout != nil {
			logStdout = o.LogStdout
		}
		if o.LogStderr != nil {
			logStderr = o.LogStderr
		}
	}

	res, cmdReader, errReader := s.Pipe(ctx, cmd)
	if cmdReader == nil {
		r := <-res
		return &CaptureResult{ExitStatus: r.ExitStatus}, r.Error
	}

	channels := struct {
		Stdout chan string
		Stderr chan string
	}{
		Stdout: make(chan string),
		Stderr: make(chan string),
	}

	go scanLines(cmdReader, channels.Stdout)
	go scanLines(errReader, channels.Stderr)

	stdoutEnded := false
	stderrEnded := false

	var stdoutLines, stderrLines []string

	// Coordinating stdout/stderr in this single place to not screw up message ordering
	for !stdoutEnded || !stderrEnded {
		select {
		case text, ok := <-channels.Stdout:
			if ok {
				logStdout(text)
				stdoutLines = append(stdoutLines, text)
			} else {
				stdoutEnded = true
				channels.Stdout = nil
			}
		case text, ok := <-channels.Stderr:
			if ok {
				logStderr(text)
				stderrLines = append(stderrLines, text)
			} else {
				stderrEnded = true
				channels.Stderr = nil
			}
		}
	}

	r := <-res

	return &CaptureResult{
		ExitStatus: r.ExitStatus,
		Stdout:     strings.Join(stdoutLines, "\n"),
		Stderr:     strings.Join(stderrLines, "\n"),
		TimedOut:   r.TimedOut,
	}, r.Error
}

func scanLines(r io.ReadCloser, ch chan<- string) {
	defer close(ch)
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ch <- scanner.Text()
	}
}
