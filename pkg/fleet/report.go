package fleet

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/cmdsite"
	"gopkg.in/yaml.v3"
)

const ReportFile = "last-run.yaml"

type Step string

const (
	StepSync     Step = "sync"
	StepBuild    Step = "build"
	StepDiscover Step = "discover"
	StepRoute    Step = "route"
)

// StepError is a per-service failure. The run continues with the next service.
type StepError struct {
	Service string
	Step    Step
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("service %s: %s: %v", e.Service, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) TimedOut() bool {
	return cmdsite.IsTimeout(e.Err)
}

type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

type ServiceResult struct {
	Name     string `yaml:"name"`
	Status   Status `yaml:"status"`
	Step     Step   `yaml:"step,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
	Revision string `yaml:"revision,omitempty"`
	Cloned   bool   `yaml:"cloned,omitempty"`
	Upstream string `yaml:"upstream,omitempty"`
	Routed   bool   `yaml:"routed"`
}

func (r ServiceResult) failed(err *StepError) ServiceResult {
	r.Status = StatusFailed
	if err.TimedOut() {
		r.Status = StatusTimedOut
	}
	r.Step = err.Step
	r.Error = err.Err.Error()
	r.Routed = false
	return r
}

// Report summarizes one run. It is written to BaseDir/last-run.yaml by every run that acquired the lock.
type Report struct {
	RunID      string    `yaml:"runID"`
	StartedAt  time.Time `yaml:"startedAt"`
	FinishedAt time.Time `yaml:"finishedAt"`
	Strategy   string    `yaml:"strategy"`
	TLSMode    string    `yaml:"tlsMode,omitempty"`
	TLSReason  string    `yaml:"tlsReason,omitempty"`

	// Fatal is the error that aborted the run, if any
	Fatal string `yaml:"fatal,omitempty"`

	Services []ServiceResult `yaml:"services"`
	Routes   int             `yaml:"routes"`
}

// Failed returns the number of services that hit a recoverable error
func (r *Report) Failed() int {
	var n int
	for _, s := range r.Services {
		if s.Status != StatusOK {
			n++
		}
	}
	return n
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func writeReport(fs vfs.FS, baseDir string, r *Report) error {
	bs, err := yaml.Marshal(r)
	if err != nil {
		return err
	}

	path := filepath.Join(baseDir, ReportFile)
	tmp := path + ".tmp"

	if err := fs.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}

	return fs.Rename(tmp, path)
}
