package tlsmode

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/variantdev/fleet/pkg/vhttpget"
	"k8s.io/klog/klogr"
)

type Mode string

const (
	// Direct means the proxy is reachable at the domain's public address and terminates TLS itself
	Direct Mode = "direct"
	// Passthrough means an upstream edge terminates TLS and the proxy serves plain HTTP
	Passthrough Mode = "passthrough"
)

const DefaultLookupTimeout = 3 * time.Second

// Resolver is satisfied by *net.Resolver
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Detection is the outcome of Detect including what it was based on
type Detection struct {
	Mode     Mode
	PublicIP string
	Resolved []string
	Reason   string
}

type Detector struct {
	Logger      logr.Logger
	HTTP        vhttpget.Getter
	Resolver    Resolver
	PublicIPURL string
	Timeout     time.Duration
}

type Option func(*Detector)

func Logger(l logr.Logger) Option {
	return func(d *Detector) {
		d.Logger = l
	}
}

func HTTPGetter(g vhttpget.Getter) Option {
	return func(d *Detector) {
		d.HTTP = g
	}
}

func DNS(r Resolver) Option {
	return func(d *Detector) {
		d.Resolver = r
	}
}

func New(publicIPURL string, opts ...Option) *Detector {
	d := &Detector{
		PublicIPURL: publicIPURL,
		Timeout:     DefaultLookupTimeout,
	}

	for _, o := range opts {
		o(d)
	}

	if d.Logger == nil {
		d.Logger = klogr.New()
	}

	if d.HTTP == nil {
		d.HTTP = vhttpget.New()
	}

	if d.Resolver == nil {
		d.Resolver = net.DefaultResolver
	}

	return d
}

// Detect classifies how the proxy should serve TLS for probeDomain.
// It is a heuristic: a lookup failure or mismatch yields Passthrough, never an error.
func (d *Detector) Detect(ctx context.Context, probeDomain string) *Detection {
	r := &Detection{Mode: Passthrough}

	ip, err := d.publicIP(ctx)
	if err != nil {
		r.Reason = fmt.Sprintf("public address unknown: %v", err)
		d.log(probeDomain, r)
		return r
	}
	r.PublicIP = ip

	lctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	addrs, err := d.Resolver.LookupHost(lctx, probeDomain)
	if err != nil {
		r.Reason = fmt.Sprintf("resolving %s: %v", probeDomain, err)
		d.log(probeDomain, r)
		return r
	}
	r.Resolved = addrs

	for _, a := range addrs {
		if sameIP(a, ip) {
			r.Mode = Direct
			r.Reason = fmt.Sprintf("%s resolves to this host's public address", probeDomain)
			d.log(probeDomain, r)
			return r
		}
	}

	r.Reason = fmt.Sprintf("%s resolves to %s, not %s", probeDomain, strings.Join(addrs, ","), ip)
	d.log(probeDomain, r)
	return r
}

func (d *Detector) publicIP(ctx context.Context) (string, error) {
	body, err := d.HTTP.DoRequest(ctx, d.PublicIPURL, vhttpget.Opts{Timeout: d.Timeout})
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(body)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%s returned %q, not an IP address", d.PublicIPURL, ip)
	}

	return ip, nil
}

func (d *Detector) log(probeDomain string, r *Detection) {
	d.Logger.Info("detected TLS mode (heuristic)", "probe", probeDomain, "mode", string(r.Mode), "publicIP", r.PublicIP, "reason", r.Reason)
}

func sameIP(a, b string) bool {
	x, y := net.ParseIP(strings.TrimSpace(a)), net.ParseIP(strings.TrimSpace(b))
	return x != nil && y != nil && x.Equal(y)
}
