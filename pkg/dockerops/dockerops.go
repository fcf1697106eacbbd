package dockerops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/variantdev/fleet/pkg/cmdsite"
)

// Client drives the docker CLI and its compose plugin
type Client struct {
	sh         *cmdsite.CommandSite
	dockerPath string
}

type Option func(*Client)

func CommandSite(sh *cmdsite.CommandSite) Option {
	return func(c *Client) {
		c.sh = sh
	}
}

func DockerPath(p string) Option {
	return func(c *Client) {
		c.dockerPath = p
	}
}

func New(opt ...Option) *Client {
	c := &Client{
		dockerPath: "docker",
	}

	for _, o := range opt {
		o(c)
	}

	if c.sh == nil {
		c.sh = cmdsite.New()
	}

	return c
}

// Site returns the command site the client runs docker with
func (c *Client) Site() *cmdsite.CommandSite {
	return c.sh
}

// ServerVersion returns the docker engine version, or the client version when the engine is unreachable
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"version", "--format", "{{.Server.Version}}"})
	if err == nil && strings.TrimSpace(stdout) != "" {
		return strings.TrimSpace(stdout), nil
	}

	stdout, _, err2 := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"--version"})
	if err2 != nil {
		if err != nil {
			return "", err
		}
		return "", err2
	}

	return strings.TrimSpace(stdout), nil
}

func (c *Client) ComposeVersion(ctx context.Context) (string, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"compose", "version", "--short"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

func (c *Client) NetworkExists(ctx context.Context, name string) bool {
	_, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"network", "inspect", name})
	return err == nil
}

// EnsureNetwork creates the named network unless it exists. It reports whether the network was created.
func (c *Client) EnsureNetwork(ctx context.Context, name string) (bool, error) {
	if c.NetworkExists(ctx, name) {
		return false, nil
	}

	if _, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"network", "create", name}); err != nil {
		return false, fmt.Errorf("creating network %s: %w", name, err)
	}

	return true, nil
}

func (c *Client) NetworkConnect(ctx context.Context, network, container string) error {
	_, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"network", "connect", network, container})
	return err
}

// Project identifies a compose project rooted at Dir
type Project struct {
	Name     string
	Dir      string
	Manifest string
}

func (p Project) args(sub ...string) []string {
	return append([]string{"compose", "-p", p.Name, "-f", p.Manifest}, sub...)
}

// ComposeUp builds and starts the project, removing containers of services no longer in the manifest.
// Output is logged line by line at V(level).
func (c *Client) ComposeUp(ctx context.Context, p Project, level int) error {
	return c.sh.WithDir(p.Dir).Stream(ctx, level, c.dockerPath, p.args("up", "-d", "--build", "--remove-orphans"))
}

// ComposePs returns the IDs of the project's containers
func (c *Client) ComposePs(ctx context.Context, p Project) ([]string, error) {
	stdout, _, err := c.sh.WithDir(p.Dir).CaptureStrings(ctx, c.dockerPath, p.args("ps", "-q"))
	if err != nil {
		return nil, err
	}
	return strings.Fields(stdout), nil
}

func (c *Client) UpdateRestart(ctx context.Context, policy string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]string{"update", "--restart", policy}, ids...)
	_, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, args)
	return err
}

// Inspect returns the JSON array printed by docker inspect
func (c *Client) Inspect(ctx context.Context, ids ...string) ([]byte, error) {
	if len(ids) == 0 {
		return []byte("[]"), nil
	}
	stdout, _, err := c.sh.CaptureBytes(ctx, c.dockerPath, append([]string{"inspect"}, ids...))
	if err != nil {
		return nil, err
	}
	return stdout, nil
}

// RemoveContainer force-removes the container. A missing container is not an error.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	_, stderr, err := c.sh.CaptureStrings(ctx, c.dockerPath, []string{"rm", "-f", name})
	if err != nil && strings.Contains(stderr, "No such container") {
		return nil
	}
	return err
}

// RunSpec describes a detached container
type RunSpec struct {
	Name    string
	Image   string
	Network string
	Restart string
	// Ports are host:container pairs
	Ports   []string
	Volumes []string
	Env     map[string]string
	Labels  map[string]string
	Args    []string
}

func (s RunSpec) args() []string {
	args := []string{"run", "-d", "--name", s.Name}

	if s.Network != "" {
		args = append(args, "--network", s.Network)
	}

	if s.Restart != "" {
		args = append(args, "--restart", s.Restart)
	}

	for _, p := range s.Ports {
		args = append(args, "-p", p)
	}

	for _, v := range s.Volumes {
		args = append(args, "-v", v)
	}

	for _, k := range sortedKeys(s.Env) {
		args = append(args, "-e", k+"="+s.Env[k])
	}

	for _, k := range sortedKeys(s.Labels) {
		args = append(args, "--label", k+"="+s.Labels[k])
	}

	args = append(args, s.Image)

	return append(args, s.Args...)
}

// RunContainer starts the container and returns its ID
func (c *Client) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.dockerPath, spec.args())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

func sortedKeys(m map[string]string) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
