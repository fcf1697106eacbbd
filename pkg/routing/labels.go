package routing

import (
	"context"
	"fmt"

	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/discovery"
	"github.com/variantdev/fleet/pkg/dockerops"
	"github.com/variantdev/fleet/pkg/tlsmode"
)

const dockerSocket = "/var/run/docker.sock"

// Labels runs caddy-docker-proxy, which routes by the caddy labels of each service's own containers
type Labels struct {
	common
}

func (l *Labels) NeedsDiscovery() bool {
	return false
}

func (l *Labels) Prepare(_ context.Context, mode tlsmode.Mode) error {
	l.mode = mode
	return nil
}

// Add is a no-op. Routes are declared by the service's manifest.
func (l *Labels) Add(_ context.Context, svc confapi.Service, _ *discovery.Address) error {
	l.Logger.V(1).Info("route is owned by the service's labels", "service", svc.Name, "host", l.Fleet.Host(svc))
	return nil
}

func (l *Labels) Routes() []RouteEntry {
	return nil
}

func (l *Labels) Commit(ctx context.Context) error {
	spec := dockerops.RunSpec{
		Name:    l.Fleet.Proxy.Container,
		Image:   l.Fleet.Proxy.LabelsImage,
		Network: l.Fleet.Network,
		Restart: restartPolicy,
		Ports:   l.ports(),
		Volumes: []string{
			dockerSocket + ":" + dockerSocket + ":ro",
			"caddy_data:/data",
		},
		Env: map[string]string{
			"CADDY_INGRESS_NETWORKS": l.Fleet.Network,
		},
	}

	// caddy-docker-proxy merges a base Caddyfile into the label-generated config
	if l.mode == tlsmode.Passthrough {
		content, err := RenderCaddyfile(l.mode, nil)
		if err != nil {
			return fmt.Errorf("rendering base Caddyfile: %w", err)
		}

		if err := l.writeCaddyfile(content); err != nil {
			return fmt.Errorf("writing base Caddyfile: %w", err)
		}

		spec.Volumes = append(spec.Volumes, l.CaddyfilePath()+":"+containerCaddy+":ro")
		spec.Env["CADDY_DOCKER_CADDYFILE_PATH"] = containerCaddy
	}

	return l.restartProxy(ctx, spec)
}
