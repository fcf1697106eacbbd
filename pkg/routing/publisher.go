package routing

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/discovery"
	"github.com/variantdev/fleet/pkg/dockerops"
	"github.com/variantdev/fleet/pkg/tlsmode"
	"k8s.io/klog/klogr"
)

// Publisher exposes services through the reverse proxy
type Publisher interface {
	// NeedsDiscovery reports whether Add expects discovered container addresses
	NeedsDiscovery() bool

	// Prepare starts a new set of routes served in the TLS mode
	Prepare(ctx context.Context, mode tlsmode.Mode) error

	Add(ctx context.Context, svc confapi.Service, addr *discovery.Address) error

	// Commit makes the proxy serve the routes added since Prepare
	Commit(ctx context.Context) error

	Routes() []RouteEntry
}

// Docker is the subset of dockerops.Client publishers use
type Docker interface {
	NetworkConnect(ctx context.Context, network, container string) error
	RemoveContainer(ctx context.Context, name string) error
	RunContainer(ctx context.Context, spec dockerops.RunSpec) (string, error)
}

type RouteEntry struct {
	Host     string
	Upstream string
	TLS      tlsmode.Mode
}

// Site is the Caddy site address of the entry
func (e RouteEntry) Site() string {
	if e.TLS == tlsmode.Passthrough {
		return "http://" + e.Host
	}
	return e.Host
}

const (
	CaddyDir       = "caddy"
	CaddyfileName  = "Caddyfile"
	containerCaddy = "/etc/caddy/Caddyfile"
	restartPolicy  = "unless-stopped"
)

type common struct {
	Logger  logr.Logger
	Fleet   *confapi.Fleet
	BaseDir string
	Docker  Docker

	fs   vfs.FS
	mode tlsmode.Mode
}

// New returns the publisher of the fleet's strategy
func New(fs vfs.FS, f *confapi.Fleet, baseDir string, docker Docker, logger logr.Logger) (Publisher, error) {
	if logger == nil {
		logger = klogr.New()
	}

	c := common{
		Logger:  logger,
		Fleet:   f,
		BaseDir: baseDir,
		Docker:  docker,
		fs:      fs,
		mode:    tlsmode.Passthrough,
	}

	switch f.Strategy {
	case confapi.StrategyStatic:
		return &Static{common: c}, nil
	case confapi.StrategyLabels:
		return &Labels{common: c}, nil
	}

	return nil, fmt.Errorf("unsupported strategy %q", f.Strategy)
}

// CaddyfilePath is where the generated Caddyfile lives on the host
func (c *common) CaddyfilePath() string {
	return filepath.Join(c.BaseDir, CaddyDir, CaddyfileName)
}

func (c *common) ports() []string {
	if c.mode == tlsmode.Direct {
		return []string{"80:80", "443:443"}
	}
	return []string{fmt.Sprintf("%d:80", c.Fleet.Proxy.PassthroughPort)}
}

// writeCaddyfile replaces the Caddyfile through a rename so that the proxy never reads a partial file
func (c *common) writeCaddyfile(content string) error {
	dir := filepath.Join(c.BaseDir, CaddyDir)
	if err := vfs.MkdirAll(c.fs, dir, 0755); err != nil {
		return err
	}

	tmp := c.CaddyfilePath() + ".tmp"

	if err := c.fs.WriteFile(tmp, []byte(content), 0644); err != nil {
		return err
	}

	if err := c.fs.Rename(tmp, c.CaddyfilePath()); err != nil {
		c.fs.Remove(tmp)
		return err
	}

	return nil
}

// restartProxy removes the proxy container and runs it again from spec
func (c *common) restartProxy(ctx context.Context, spec dockerops.RunSpec) error {
	if err := c.Docker.RemoveContainer(ctx, spec.Name); err != nil {
		return fmt.Errorf("removing proxy %s: %w", spec.Name, err)
	}

	id, err := c.Docker.RunContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("starting proxy %s: %w", spec.Name, err)
	}

	c.Logger.Info("proxy started", "container", spec.Name, "image", spec.Image, "id", id, "tls", string(c.mode))

	return nil
}
