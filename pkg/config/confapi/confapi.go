package confapi

import (
	"fmt"
	"regexp"
	"time"
)

type Strategy string

const (
	// StrategyStatic generates a Caddyfile from discovered containers
	StrategyStatic Strategy = "static"
	// StrategyLabels runs caddy-docker-proxy, which routes by labels declared in each service's own manifest
	StrategyLabels Strategy = "labels"
)

// Fleet is the validated configuration of one host's deployment run
type Fleet struct {
	Domain         string   `json:"domain"`
	ProbeSubdomain string   `json:"probeSubdomain"`
	Network        string   `json:"network"`
	Strategy       Strategy `json:"strategy"`
	Manifest       string   `json:"manifest"`
	Branches       []string `json:"branches"`
	PublicIPURL    string   `json:"publicIPURL"`

	Proxy    Proxy    `json:"proxy"`
	Timeouts Timeouts `json:"timeouts"`
	Runtime  Runtime  `json:"runtime"`
	Lock     Lock     `json:"lock"`
	Metrics  Metrics  `json:"metrics"`

	Services []Service `json:"services"`
}

// Service is one independently versioned deployable unit
type Service struct {
	// Name is the subdomain, checkout directory and compose project of the service
	Name   string `json:"name"`
	Source string `json:"source"`

	// Port is the TCP port the service listens on inside its container. Zero means the service gets no route.
	Port int `json:"port"`

	// ContainerHint selects among several containers exposing Port
	ContainerHint string `json:"containerHint,omitempty"`

	Branches []string `json:"branches,omitempty"`
	Manifest string   `json:"manifest,omitempty"`
}

type Proxy struct {
	Container       string `json:"container"`
	Image           string `json:"image"`
	LabelsImage     string `json:"labelsImage"`
	PassthroughPort int    `json:"passthroughPort"`
}

type Timeouts struct {
	Sync     time.Duration `json:"sync"`
	Build    time.Duration `json:"build"`
	Discover time.Duration `json:"discover"`
	Proxy    time.Duration `json:"proxy"`
	Install  time.Duration `json:"install"`
}

type Runtime struct {
	InstallScript     string `json:"installScript"`
	ComposeConstraint string `json:"composeConstraint"`
}

type Lock struct {
	// StaleAfter lets a run reclaim a lock older than this even when its holder looks alive. Zero disables it.
	StaleAfter time.Duration `json:"staleAfter"`
}

type Metrics struct {
	PushGateway string `json:"pushGateway,omitempty"`
}

func (f *Fleet) ProbeDomain() string {
	return f.ProbeSubdomain + "." + f.Domain
}

func (f *Fleet) ManifestFor(s Service) string {
	if s.Manifest != "" {
		return s.Manifest
	}
	return f.Manifest
}

func (f *Fleet) BranchesFor(s Service) []string {
	if len(s.Branches) > 0 {
		return s.Branches
	}
	return f.Branches
}

// Host returns the public host name the service is routed under
func (f *Fleet) Host(s Service) string {
	return s.Name + "." + f.Domain
}

var dnsLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// IsDNSLabel reports whether s is a valid lower-case RFC 1123 label
func IsDNSLabel(s string) bool {
	return dnsLabel.MatchString(s)
}

// Validate checks the invariants that cannot be expressed by the schema
func (f *Fleet) Validate() error {
	if f.Domain == "" {
		return fmt.Errorf("domain is required")
	}

	switch f.Strategy {
	case StrategyStatic, StrategyLabels:
	default:
		return fmt.Errorf("unsupported strategy %q: must be %q or %q", f.Strategy, StrategyStatic, StrategyLabels)
	}

	if !IsDNSLabel(f.ProbeSubdomain) {
		return fmt.Errorf("probe subdomain %q is not a valid DNS label", f.ProbeSubdomain)
	}

	seen := map[string]struct{}{}

	for i, s := range f.Services {
		if !IsDNSLabel(s.Name) {
			return fmt.Errorf("services[%d]: name %q is not a valid DNS label", i, s.Name)
		}

		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.Source == "" {
			return fmt.Errorf("service %q: source is required", s.Name)
		}

		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("service %q: port %d is out of range", s.Name, s.Port)
		}
	}

	return nil
}

// ParseDuration parses a Go duration string. The empty string is zero, which means "use the default".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
