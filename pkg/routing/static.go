package routing

import (
	"context"
	"fmt"

	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/discovery"
	"github.com/variantdev/fleet/pkg/dockerops"
	"github.com/variantdev/fleet/pkg/tlsmode"
)

// Static regenerates a Caddyfile from the discovered containers on every run
type Static struct {
	common

	entries []RouteEntry
}

func (s *Static) NeedsDiscovery() bool {
	return true
}

func (s *Static) Prepare(_ context.Context, mode tlsmode.Mode) error {
	s.mode = mode
	s.entries = nil
	return nil
}

// Add connects the container to the shared network and records its route.
// A failed connect is ignored since the container may already be attached.
func (s *Static) Add(ctx context.Context, svc confapi.Service, addr *discovery.Address) error {
	if addr == nil {
		return fmt.Errorf("service %s: no address to route to", svc.Name)
	}

	if err := s.Docker.NetworkConnect(ctx, s.Fleet.Network, addr.Container); err != nil {
		s.Logger.V(1).Info("network connect failed", "network", s.Fleet.Network, "container", addr.Container, "error", err.Error())
	}

	for _, e := range s.entries {
		if e.Host == s.Fleet.Host(svc) {
			return fmt.Errorf("duplicate route for %s", e.Host)
		}
	}

	s.entries = append(s.entries, RouteEntry{
		Host:     s.Fleet.Host(svc),
		Upstream: addr.String(),
		TLS:      s.mode,
	})

	return nil
}

func (s *Static) Routes() []RouteEntry {
	return s.entries
}

func (s *Static) Commit(ctx context.Context) error {
	content, err := RenderCaddyfile(s.mode, s.entries)
	if err != nil {
		return fmt.Errorf("rendering Caddyfile: %w", err)
	}

	if err := s.writeCaddyfile(content); err != nil {
		return fmt.Errorf("writing Caddyfile: %w", err)
	}

	s.Logger.Info("Caddyfile written", "path", s.CaddyfilePath(), "routes", len(s.entries))

	return s.restartProxy(ctx, dockerops.RunSpec{
		Name:    s.Fleet.Proxy.Container,
		Image:   s.Fleet.Proxy.Image,
		Network: s.Fleet.Network,
		Restart: restartPolicy,
		Ports:   s.ports(),
		Volumes: []string{
			s.CaddyfilePath() + ":" + containerCaddy + ":ro",
			"caddy_data:/data",
			"caddy_config:/config",
		},
	})
}
