package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/dockerops"
	"github.com/variantdev/fleet/pkg/syncer"
	"k8s.io/klog/klogr"
)

const RestartPolicy = "unless-stopped"

var ErrNoManifest = errors.New("build manifest not found")

// ContainerGroup is the set of containers compose runs for one checkout
type ContainerGroup struct {
	Project      string
	Dir          string
	Manifest     string
	ContainerIDs []string
}

type Builder struct {
	Logger logr.Logger
	Docker *dockerops.Client

	// OutputLevel is the verbosity compose output is logged at
	OutputLevel int

	fs vfs.FS
}

func New(fs vfs.FS, docker *dockerops.Client, logger logr.Logger) *Builder {
	if logger == nil {
		logger = klogr.New()
	}

	return &Builder{
		Logger: logger,
		Docker: docker,
		fs:     fs,
	}
}

// BuildAndRun builds and starts the compose project of the checkout, then sets the
// restart policy of its containers so that they come back after a host reboot.
func (b *Builder) BuildAndRun(ctx context.Context, co *syncer.Checkout, manifest string) (*ContainerGroup, error) {
	path := filepath.Join(co.Dir, manifest)

	if _, err := b.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, path)
		}
		return nil, err
	}

	p := dockerops.Project{
		Name:     co.Service.Name,
		Dir:      co.Dir,
		Manifest: manifest,
	}

	log := b.Logger.WithValues("service", co.Service.Name)

	log.Info("building", "dir", co.Dir, "manifest", manifest)

	if err := b.Docker.ComposeUp(ctx, p, b.OutputLevel); err != nil {
		return nil, fmt.Errorf("compose up: %w", err)
	}

	ids, err := b.Docker.ComposePs(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("compose ps: %w", err)
	}

	if err := b.Docker.UpdateRestart(ctx, RestartPolicy, ids...); err != nil {
		log.V(1).Info("setting restart policy failed", "error", err.Error())
	}

	return &ContainerGroup{
		Project:      p.Name,
		Dir:          p.Dir,
		Manifest:     manifest,
		ContainerIDs: ids,
	}, nil
}
