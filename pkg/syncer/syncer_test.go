package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/twpayne/go-vfs/vfst"
	"github.com/variantdev/fleet/pkg/cmdsite"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/shell"
)

type fakeGitHub struct {
	branch string
	err    error
}

func (f *fakeGitHub) DefaultBranch(_ context.Context, owner, repo string) (string, error) {
	if owner != "acme" || repo != "alpha" {
		return "", errors.New("unexpected repo " + owner + "/" + repo)
	}
	return f.branch, f.err
}

var alpha = confapi.Service{Name: "alpha", Source: "https://github.com/acme/alpha.git", Port: 9000}

func site(expectations map[shell.FakeInput]shell.FakeOutput) *cmdsite.CommandSite {
	return cmdsite.New(cmdsite.Exec(shell.NewFake(expectations)))
}

func TestSync_Clone(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps": &vfst.Dir{Perm: 0755},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	s := New(fs, site(map[shell.FakeInput]shell.FakeOutput{
		shell.NewFakeInput("git", []string{"clone", alpha.Source, "/apps/alpha"}, "/apps"):         {Stderr: "Cloning into '/apps/alpha'...\n"},
		shell.NewFakeInput("git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, "/apps/alpha"): {Stdout: "main\n"},
		shell.NewFakeInput("git", []string{"rev-parse", "HEAD"}, "/apps/alpha"):                 {Stdout: "0123abcd\n"},
	}), "/apps")

	co, err := s.Sync(context.Background(), alpha, []string{"main", "master"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := &Checkout{Service: alpha, Dir: "/apps/alpha", Cloned: true, Branch: "main", Revision: "0123abcd"}
	if d := cmp.Diff(expected, co); d != "" {
		t.Errorf("unexpected checkout: %s", d)
	}
}

func TestSync_PullFallback(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps/alpha/.git/HEAD": "ref: refs/heads/master\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	s := New(fs, site(map[shell.FakeInput]shell.FakeOutput{
		shell.NewFakeInput("git", []string{"stash", "push", "--include-untracked"}, "/apps/alpha"): {Stdout: "Saved working directory and index state WIP on master\n"},
		shell.NewFakeInput("git", []string{"pull", "origin", "main"}, "/apps/alpha"):              {Stderr: "fatal: couldn't find remote ref main\n", ExitStatus: 1},
		shell.NewFakeInput("git", []string{"pull", "origin", "master"}, "/apps/alpha"):            {Stdout: "Already up to date.\n"},
		shell.NewFakeInput("git", []string{"rev-parse", "HEAD"}, "/apps/alpha"):                   {Stdout: "fedc9876\n"},
	}), "/apps")

	co, err := s.Sync(context.Background(), alpha, []string{"main", "master"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := &Checkout{Service: alpha, Dir: "/apps/alpha", Stashed: true, Branch: "master", Revision: "fedc9876"}
	if d := cmp.Diff(expected, co); d != "" {
		t.Errorf("unexpected checkout: %s", d)
	}
}

func TestSync_PullExhausted(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps/alpha/.git/HEAD": "ref: refs/heads/master\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	s := New(fs, site(map[shell.FakeInput]shell.FakeOutput{
		shell.NewFakeInput("git", []string{"stash", "push", "--include-untracked"}, "/apps/alpha"): {Stdout: "No local changes to save\n"},
		shell.NewFakeInput("git", []string{"pull", "origin", "main"}, "/apps/alpha"):              {ExitStatus: 1},
		shell.NewFakeInput("git", []string{"pull", "origin", "master"}, "/apps/alpha"):            {Stderr: "fatal: unable to access\n", ExitStatus: 128},
	}), "/apps")

	_, err = s.Sync(context.Background(), alpha, []string{"main", "master"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if !strings.Contains(err.Error(), "tried main, master") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSync_PullTimeoutStops(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps/alpha/.git/HEAD": "ref: refs/heads/main\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	s := New(fs, site(map[shell.FakeInput]shell.FakeOutput{
		shell.NewFakeInput("git", []string{"stash", "push", "--include-untracked"}, "/apps/alpha"): {Stdout: "No local changes to save\n"},
		shell.NewFakeInput("git", []string{"pull", "origin", "main"}, "/apps/alpha"):              {TimedOut: true},
	}), "/apps")

	_, err = s.Sync(context.Background(), alpha, []string{"main", "master"})
	if !cmdsite.IsTimeout(err) {
		t.Fatalf("expected a timeout, got %v", err)
	}
}

func TestSync_RefusesForeignDirectory(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps/alpha/notes.txt": "keep me",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	s := New(fs, site(map[shell.FakeInput]shell.FakeOutput{}), "/apps")

	if _, err := s.Sync(context.Background(), alpha, []string{"main"}); err == nil {
		t.Fatal("expected error, got nil")
	}

	vfst.RunTests(t, fs, "untouched",
		vfst.TestPath("/apps/alpha/notes.txt", vfst.TestContentsString("keep me")),
	)
}

func TestCandidates(t *testing.T) {
	testcases := []struct {
		name     string
		github   BranchLookup
		svc      confapi.Service
		expected []string
	}{
		{
			name:     "no github",
			svc:      alpha,
			expected: []string{"main", "master"},
		},
		{
			name:     "default branch first and deduplicated",
			github:   &fakeGitHub{branch: "master"},
			svc:      alpha,
			expected: []string{"master", "main"},
		},
		{
			name:     "lookup error ignored",
			github:   &fakeGitHub{err: errors.New("403 rate limit exceeded")},
			svc:      alpha,
			expected: []string{"main", "master"},
		},
		{
			name:     "non github source",
			github:   &fakeGitHub{branch: "trunk"},
			svc:      confapi.Service{Name: "beta", Source: "https://gitlab.com/acme/beta.git"},
			expected: []string{"main", "master"},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(nil, nil, "/apps", GitHub(tc.github))

			actual := s.Candidates(context.Background(), tc.svc, []string{"main", "master"})
			if d := cmp.Diff(tc.expected, actual); d != "" {
				t.Errorf("unexpected candidates: %s", d)
			}
		})
	}
}
