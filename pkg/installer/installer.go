package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/variantdev/fleet/pkg/cmdsite"
	"github.com/variantdev/fleet/pkg/dockerops"
	"github.com/variantdev/fleet/pkg/semver"
	"k8s.io/klog/klogr"
)

// ErrPrecondition is matched by every error returned from Ensure
var ErrPrecondition = errors.New("container runtime precondition not met")

type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPrecondition, e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// Fetcher downloads a go-getter source and returns the local path of the file
type Fetcher interface {
	FetchFile(ctx context.Context, src string) (string, error)
}

type Installer struct {
	Logger logr.Logger

	Docker *dockerops.Client
	// Site runs the install script and systemctl
	Site    *cmdsite.CommandSite
	Fetcher Fetcher

	InstallScript     string
	ComposeConstraint string
}

type Option func(*Installer)

func Logger(l logr.Logger) Option {
	return func(i *Installer) {
		i.Logger = l
	}
}

func Fetch(f Fetcher) Option {
	return func(i *Installer) {
		i.Fetcher = f
	}
}

func InstallScript(src string) Option {
	return func(i *Installer) {
		i.InstallScript = src
	}
}

func ComposeConstraint(c string) Option {
	return func(i *Installer) {
		i.ComposeConstraint = c
	}
}

func New(site *cmdsite.CommandSite, opts ...Option) *Installer {
	i := &Installer{
		Site:   site,
		Docker: dockerops.New(dockerops.CommandSite(site)),
	}

	for _, o := range opts {
		o(i)
	}

	if i.Logger == nil {
		i.Logger = klogr.New()
	}

	return i
}

type Status struct {
	DockerVersion  string
	ComposeVersion string
	// Installed is true when this call ran the install script
	Installed bool
}

// Ensure makes sure docker and its compose plugin are available, installing them when either is missing.
// It is a no-op when both are present.
func (i *Installer) Ensure(ctx context.Context) (*Status, error) {
	st, err := i.check(ctx)
	if err != nil {
		i.Logger.Info("container runtime not found, installing", "reason", err.Error(), "script", i.InstallScript)

		if err := i.install(ctx); err != nil {
			return nil, err
		}

		st, err = i.check(ctx)
		if err != nil {
			return nil, &PreconditionError{Op: "checking after install", Err: err}
		}
		st.Installed = true
	}

	i.Logger.V(1).Info("container runtime present", "docker", st.DockerVersion, "compose", st.ComposeVersion)

	if i.ComposeConstraint != "" {
		ok, err := semver.Satisfies(i.ComposeConstraint, st.ComposeVersion)
		if err != nil {
			return nil, &PreconditionError{Op: "checking compose version", Err: err}
		}
		if !ok {
			return nil, &PreconditionError{
				Op:  "checking compose version",
				Err: fmt.Errorf("docker compose %s does not satisfy %q", st.ComposeVersion, i.ComposeConstraint),
			}
		}
	}

	return st, nil
}

func (i *Installer) check(ctx context.Context) (*Status, error) {
	dv, err := i.Docker.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}

	cv, err := i.Docker.ComposeVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker compose: %w", err)
	}

	return &Status{DockerVersion: dv, ComposeVersion: cv}, nil
}

func (i *Installer) install(ctx context.Context) error {
	if i.Fetcher == nil {
		return &PreconditionError{Op: "fetching install script", Err: errors.New("no fetcher configured")}
	}

	script, err := i.Fetcher.FetchFile(ctx, i.InstallScript)
	if err != nil {
		return &PreconditionError{Op: "fetching install script", Err: err}
	}

	if err := i.Site.Stream(ctx, 0, "sh", []string{script}); err != nil {
		return &PreconditionError{Op: "running install script", Err: err}
	}

	if err := i.Site.Stream(ctx, 0, "systemctl", []string{"enable", "--now", "docker"}); err != nil {
		return &PreconditionError{Op: "starting docker", Err: err}
	}

	return nil
}
