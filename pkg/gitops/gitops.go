package gitops

import (
	"context"
	"strings"

	"github.com/variantdev/fleet/pkg/cmdsite"
)

type Client struct {
	sh      *cmdsite.CommandSite
	wd      string
	gitPath string
}

func WD(wd string) Option {
	return func(c *Client) {
		c.wd = wd
	}
}

func CommandSite(sh *cmdsite.CommandSite) Option {
	return func(c *Client) {
		c.sh = sh
	}
}

type Option func(*Client)

func New(opt ...Option) *Client {
	c := &Client{}

	for _, o := range opt {
		o(c)
	}

	if c.sh == nil {
		c.sh = cmdsite.New()
	}

	c.sh = c.sh.WithDir(c.wd)
	c.gitPath = "git"

	return c
}

// Clone clones repo into dst. dst is resolved against the client's working directory.
func (c *Client) Clone(ctx context.Context, repo, dst string) error {
	return c.git(ctx, "clone", []string{repo, dst})
}

// Stash stashes local modifications including untracked files.
// It reports whether anything was stashed.
func (c *Client) Stash(ctx context.Context) (bool, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.gitPath, []string{"stash", "push", "--include-untracked"})
	if err != nil {
		return false, err
	}
	return !strings.Contains(stdout, "No local changes to save"), nil
}

func (c *Client) Pull(ctx context.Context, remote, branch string) error {
	return c.git(ctx, "pull", []string{remote, branch})
}

func (c *Client) Checkout(ctx context.Context, branch string) error {
	return c.git(ctx, "checkout", []string{branch})
}

func (c *Client) GetCurrentBranch(ctx context.Context) (string, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.gitPath, []string{"rev-parse", "--abbrev-ref", "HEAD"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

func (c *Client) Revision(ctx context.Context) (string, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.gitPath, []string{"rev-parse", "HEAD"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

func (c *Client) GetPushURL(ctx context.Context, name string) (string, error) {
	stdout, _, err := c.sh.CaptureStrings(ctx, c.gitPath, []string{"remote", "get-url", "--push", name})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

func (c *Client) git(ctx context.Context, cmd string, args []string) error {
	_, _, err := c.sh.CaptureStrings(ctx, c.gitPath, append([]string{cmd}, args...))
	return err
}

// OwnerRepo extracts "owner/repo" from a GitHub clone URL.
// ok is false for sources hosted elsewhere.
func OwnerRepo(url string) (owner, repo string, ok bool) {
	p := strings.TrimSpace(url)
	p = strings.TrimSuffix(p, "/")
	p = strings.TrimSuffix(p, ".git")

	var trimmed bool
	for _, prefix := range []string{"git@github.com:", "https://github.com/", "http://github.com/", "ssh://git@github.com/"} {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			trimmed = true
			break
		}
	}
	if !trimmed {
		return "", "", false
	}

	ownerRepo := strings.Split(p, "/")
	if len(ownerRepo) != 2 || ownerRepo[0] == "" || ownerRepo[1] == "" {
		return "", "", false
	}

	return ownerRepo[0], ownerRepo[1], true
}
