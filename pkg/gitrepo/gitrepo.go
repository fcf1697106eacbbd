package gitrepo

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
)

type Client struct {
	github *github.Client
}

// DefaultBranch returns the branch GitHub reports as the default for owner/repo
func (c *Client) DefaultBranch(ctx context.Context, owner string, repo string) (string, error) {
	r, _, err := c.github.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	return r.GetDefaultBranch(), nil
}

// NewClient returns a client authenticated with GITHUB_TOKEN when it is set,
// and an anonymous client otherwise.
func NewClient(ctx context.Context) *Client {
	var hc *http.Client

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(ctx, ts)
	}

	return &Client{
		github: github.NewClient(hc),
	}
}

// NewEnterpriseClient returns a client for the API served at baseURL
func NewEnterpriseClient(hc *http.Client, baseURL string) (*Client, error) {
	gc := github.NewClient(hc)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
		u.Path += "/"
	}
	gc.BaseURL = u

	return &Client{
		github: gc,
	}, nil
}
