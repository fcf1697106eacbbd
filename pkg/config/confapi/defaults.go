package confapi

import "time"

const (
	DefaultProbeSubdomain    = "probe"
	DefaultNetwork           = "web"
	DefaultManifest          = "docker-compose.yml"
	DefaultPublicIPURL       = "https://api.ipify.org"
	DefaultProxyContainer    = "caddy"
	DefaultProxyImage        = "caddy:2-alpine"
	DefaultLabelsProxyImage  = "lucaslorentz/caddy-docker-proxy:ci-alpine"
	DefaultPassthroughPort   = 80
	DefaultInstallScript     = "https://get.docker.com"
	DefaultComposeConstraint = ">= 2.0.0"
)

var DefaultBranches = []string{"main", "master"}

var DefaultTimeouts = Timeouts{
	Sync:     10 * time.Minute,
	Build:    30 * time.Minute,
	Discover: time.Minute,
	Proxy:    2 * time.Minute,
	Install:  15 * time.Minute,
}

// SetDefaults fills every unset field with its default
func (f *Fleet) SetDefaults() {
	if f.ProbeSubdomain == "" {
		f.ProbeSubdomain = DefaultProbeSubdomain
	}
	if f.Network == "" {
		f.Network = DefaultNetwork
	}
	if f.Strategy == "" {
		f.Strategy = StrategyStatic
	}
	if f.Manifest == "" {
		f.Manifest = DefaultManifest
	}
	if len(f.Branches) == 0 {
		f.Branches = append([]string{}, DefaultBranches...)
	}
	if f.PublicIPURL == "" {
		f.PublicIPURL = DefaultPublicIPURL
	}

	if f.Proxy.Container == "" {
		f.Proxy.Container = DefaultProxyContainer
	}
	if f.Proxy.Image == "" {
		f.Proxy.Image = DefaultProxyImage
	}
	if f.Proxy.LabelsImage == "" {
		f.Proxy.LabelsImage = DefaultLabelsProxyImage
	}
	if f.Proxy.PassthroughPort == 0 {
		f.Proxy.PassthroughPort = DefaultPassthroughPort
	}

	if f.Timeouts.Sync == 0 {
		f.Timeouts.Sync = DefaultTimeouts.Sync
	}
	if f.Timeouts.Build == 0 {
		f.Timeouts.Build = DefaultTimeouts.Build
	}
	if f.Timeouts.Discover == 0 {
		f.Timeouts.Discover = DefaultTimeouts.Discover
	}
	if f.Timeouts.Proxy == 0 {
		f.Timeouts.Proxy = DefaultTimeouts.Proxy
	}
	if f.Timeouts.Install == 0 {
		f.Timeouts.Install = DefaultTimeouts.Install
	}

	if f.Runtime.InstallScript == "" {
		f.Runtime.InstallScript = DefaultInstallScript
	}
	if f.Runtime.ComposeConstraint == "" {
		f.Runtime.ComposeConstraint = DefaultComposeConstraint
	}
}
