package yamlconf

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/variantdev/fleet/pkg/config/confapi"
	"gopkg.in/yaml.v3"
)

type FleetSpec struct {
	Domain         string   `yaml:"domain"`
	ProbeSubdomain string   `yaml:"probeSubdomain"`
	Network        string   `yaml:"network"`
	Strategy       string   `yaml:"strategy"`
	Manifest       string   `yaml:"manifest"`
	Branches       []string `yaml:"branches"`
	PublicIPURL    string   `yaml:"publicIPURL"`

	Proxy    ProxySpec    `yaml:"proxy"`
	Timeouts TimeoutsSpec `yaml:"timeouts"`
	Runtime  RuntimeSpec  `yaml:"runtime"`
	Lock     LockSpec     `yaml:"lock"`
	Metrics  MetricsSpec  `yaml:"metrics"`

	Services []ServiceSpec `yaml:"services"`
}

type ServiceSpec struct {
	Name          string   `yaml:"name"`
	Source        string   `yaml:"source"`
	Port          int      `yaml:"port"`
	ContainerHint string   `yaml:"containerHint"`
	Branches      []string `yaml:"branches"`
	Manifest      string   `yaml:"manifest"`
}

type ProxySpec struct {
	Container       string `yaml:"container"`
	Image           string `yaml:"image"`
	LabelsImage     string `yaml:"labelsImage"`
	PassthroughPort int    `yaml:"passthroughPort"`
}

type TimeoutsSpec struct {
	Sync     string `yaml:"sync"`
	Build    string `yaml:"build"`
	Discover string `yaml:"discover"`
	Proxy    string `yaml:"proxy"`
	Install  string `yaml:"install"`
}

type RuntimeSpec struct {
	InstallScript     string `yaml:"installScript"`
	ComposeConstraint string `yaml:"composeConstraint"`
}

type LockSpec struct {
	StaleAfter string `yaml:"staleAfter"`
}

type MetricsSpec struct {
	PushGateway string `yaml:"pushGateway"`
}

// Parse decodes a YAML fleet file. Unknown fields are rejected.
func Parse(b []byte) (*FleetSpec, error) {
	spec := &FleetSpec{}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(spec); err != nil && err != io.EOF {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}

	return spec, nil
}

func (s *FleetSpec) ToFleet() (*confapi.Fleet, error) {
	f := &confapi.Fleet{
		Domain:         s.Domain,
		ProbeSubdomain: s.ProbeSubdomain,
		Network:        s.Network,
		Strategy:       confapi.Strategy(s.Strategy),
		Manifest:       s.Manifest,
		Branches:       s.Branches,
		PublicIPURL:    s.PublicIPURL,
		Proxy: confapi.Proxy{
			Container:       s.Proxy.Container,
			Image:           s.Proxy.Image,
			LabelsImage:     s.Proxy.LabelsImage,
			PassthroughPort: s.Proxy.PassthroughPort,
		},
		Runtime: confapi.Runtime{
			InstallScript:     s.Runtime.InstallScript,
			ComposeConstraint: s.Runtime.ComposeConstraint,
		},
		Metrics: confapi.Metrics{
			PushGateway: s.Metrics.PushGateway,
		},
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"timeouts.sync", s.Timeouts.Sync, &f.Timeouts.Sync},
		{"timeouts.build", s.Timeouts.Build, &f.Timeouts.Build},
		{"timeouts.discover", s.Timeouts.Discover, &f.Timeouts.Discover},
		{"timeouts.proxy", s.Timeouts.Proxy, &f.Timeouts.Proxy},
		{"timeouts.install", s.Timeouts.Install, &f.Timeouts.Install},
		{"lock.staleAfter", s.Lock.StaleAfter, &f.Lock.StaleAfter},
	}

	for _, d := range durations {
		v, err := confapi.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	for _, svc := range s.Services {
		f.Services = append(f.Services, confapi.Service{
			Name:          svc.Name,
			Source:        svc.Source,
			Port:          svc.Port,
			ContainerHint: svc.ContainerHint,
			Branches:      svc.Branches,
			Manifest:      svc.Manifest,
		})
	}

	return f, nil
}
