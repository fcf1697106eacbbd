package fleet

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/builder"
	"github.com/variantdev/fleet/pkg/cmdsite"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/depresolver"
	"github.com/variantdev/fleet/pkg/discovery"
	"github.com/variantdev/fleet/pkg/dockerops"
	"github.com/variantdev/fleet/pkg/installer"
	"github.com/variantdev/fleet/pkg/routing"
	"github.com/variantdev/fleet/pkg/runlock"
	"github.com/variantdev/fleet/pkg/shell"
	"github.com/variantdev/fleet/pkg/syncer"
	"github.com/variantdev/fleet/pkg/tlsmode"
	"github.com/variantdev/fleet/pkg/vhttpget"
	"k8s.io/klog/klogr"
)

const (
	LogFile  = "deploy.log"
	CacheDir = ".cache"
)

// Manager runs deployments of the fleet onto this host
type Manager struct {
	Logger  logr.Logger
	BaseDir string
	Fleet   *confapi.Fleet

	fs           vfs.FS
	exec         shell.Exec
	dns          tlsmode.Resolver
	httpGetter   vhttpget.Getter
	github       syncer.BranchLookup
	fetcher      installer.Fetcher
	processAlive func(int) bool
	now          func() time.Time
	newRunID     func() string
}

func New(opts ...Option) (*Manager, error) {
	m := &Manager{}

	for _, o := range opts {
		if err := o.SetOption(m); err != nil {
			return nil, err
		}
	}

	if m.Fleet == nil {
		return nil, fmt.Errorf("fleet: configuration is required")
	}

	f := *m.Fleet
	f.SetDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("fleet: invalid configuration: %w", err)
	}
	m.Fleet = &f

	if m.BaseDir == "" {
		return nil, fmt.Errorf("fleet: base directory is required")
	}

	if !filepath.IsAbs(m.BaseDir) {
		abs, err := filepath.Abs(m.BaseDir)
		if err != nil {
			return nil, err
		}
		m.BaseDir = abs
	}

	if m.Logger == nil {
		m.Logger = klogr.New()
	}

	if m.fs == nil {
		m.fs = vfs.HostOSFS
	}

	if m.exec == nil {
		m.exec = shell.DefaultExec
	}

	if m.httpGetter == nil {
		m.httpGetter = vhttpget.New()
	}

	if m.processAlive == nil {
		m.processAlive = runlock.PidExists
	}

	if m.now == nil {
		m.now = time.Now
	}

	if m.newRunID == nil {
		m.newRunID = uuid.NewString
	}

	m.Logger.V(1).Info("init", "basedir", m.BaseDir, "strategy", string(m.Fleet.Strategy), "services", len(m.Fleet.Services))

	return m, nil
}

// components are the per-run collaborators, bound to the run's logger
type components struct {
	installer interface {
		Ensure(ctx context.Context) (*installer.Status, error)
	}
	network interface {
		EnsureNetwork(ctx context.Context, name string) (bool, error)
	}
	syncer interface {
		Sync(ctx context.Context, svc confapi.Service, branches []string) (*syncer.Checkout, error)
	}
	builder interface {
		BuildAndRun(ctx context.Context, co *syncer.Checkout, manifest string) (*builder.ContainerGroup, error)
	}
	discoverer interface {
		Discover(ctx context.Context, g *builder.ContainerGroup, port int, hint string) (*discovery.Address, error)
	}
	detector interface {
		Detect(ctx context.Context, probeDomain string) *tlsmode.Detection
	}
	publisher routing.Publisher
}

func (m *Manager) components(log logr.Logger) (*components, error) {
	site := cmdsite.New(cmdsite.Exec(m.exec), cmdsite.Logger(log))
	docker := dockerops.New(dockerops.CommandSite(site))

	fetcher := m.fetcher
	if fetcher == nil {
		cache := filepath.Join(m.BaseDir, CacheDir)
		dep, err := depresolver.New(
			depresolver.Home(cache),
			depresolver.Logger(log),
			depresolver.FS(m.fs),
		)
		if err != nil {
			return nil, err
		}
		fetcher = dep
	}

	pub, err := routing.New(m.fs, m.Fleet, m.BaseDir, docker, log)
	if err != nil {
		return nil, err
	}

	var detectorOpts []tlsmode.Option
	detectorOpts = append(detectorOpts, tlsmode.Logger(log), tlsmode.HTTPGetter(m.httpGetter))
	if m.dns != nil {
		detectorOpts = append(detectorOpts, tlsmode.DNS(m.dns))
	}

	var syncerOpts []syncer.Option
	syncerOpts = append(syncerOpts, syncer.Logger(log))
	if m.github != nil {
		syncerOpts = append(syncerOpts, syncer.GitHub(m.github))
	}

	return &components{
		installer: installer.New(site,
			installer.Logger(log),
			installer.Fetch(fetcher),
			installer.InstallScript(m.Fleet.Runtime.InstallScript),
			installer.ComposeConstraint(m.Fleet.Runtime.ComposeConstraint),
		),
		network:    docker,
		syncer:     syncer.New(m.fs, site, m.BaseDir, syncerOpts...),
		builder:    builder.New(m.fs, docker, log),
		discoverer: discovery.New(docker, log),
		detector:   tlsmode.New(m.Fleet.PublicIPURL, detectorOpts...),
		publisher:  pub,
	}, nil
}

// DetectTLS reports the TLS mode a run would use without deploying anything
func (m *Manager) DetectTLS(ctx context.Context) (*tlsmode.Detection, error) {
	c, err := m.components(m.Logger)
	if err != nil {
		return nil, err
	}
	return c.detector.Detect(ctx, m.Fleet.ProbeDomain()), nil
}
