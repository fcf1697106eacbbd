package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/cmdsite"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/gitops"
	"k8s.io/klog/klogr"
)

// BranchLookup reports the default branch of a GitHub repository
type BranchLookup interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// Checkout is the working copy of a service at Dir
type Checkout struct {
	Service confapi.Service
	Dir     string

	// Cloned is true when this sync created the working copy
	Cloned bool
	// Stashed is true when local modifications were stashed before pulling
	Stashed bool

	Branch   string
	Revision string
}

type Syncer struct {
	Logger  logr.Logger
	BaseDir string
	Site    *cmdsite.CommandSite
	GitHub  BranchLookup

	fs vfs.FS
}

type Option func(*Syncer)

func Logger(l logr.Logger) Option {
	return func(s *Syncer) {
		s.Logger = l
	}
}

func GitHub(g BranchLookup) Option {
	return func(s *Syncer) {
		s.GitHub = g
	}
}

func New(fs vfs.FS, site *cmdsite.CommandSite, baseDir string, opts ...Option) *Syncer {
	s := &Syncer{
		BaseDir: baseDir,
		Site:    site,
		fs:      fs,
	}

	for _, o := range opts {
		o(s)
	}

	if s.Logger == nil {
		s.Logger = klogr.New()
	}

	return s
}

// Sync clones the service into BaseDir/name, or stashes local modifications and pulls the first
// candidate branch that succeeds when the checkout already exists.
// branches are the fallback candidates, tried after the default branch reported by GitHub.
func (s *Syncer) Sync(ctx context.Context, svc confapi.Service, branches []string) (*Checkout, error) {
	dir := filepath.Join(s.BaseDir, svc.Name)
	log := s.Logger.WithValues("service", svc.Name)

	co := &Checkout{
		Service: svc,
		Dir:     dir,
	}

	exists, err := s.isCheckout(dir)
	if err != nil {
		return nil, err
	}

	if !exists {
		log.Info("cloning", "source", svc.Source, "dir", dir)

		if err := gitops.New(gitops.CommandSite(s.Site), gitops.WD(s.BaseDir)).Clone(ctx, svc.Source, dir); err != nil {
			return nil, fmt.Errorf("cloning %s: %w", svc.Source, err)
		}
		co.Cloned = true
	}

	git := gitops.New(gitops.CommandSite(s.Site), gitops.WD(dir))

	if co.Cloned {
		branch, err := git.GetCurrentBranch(ctx)
		if err != nil {
			return nil, err
		}
		co.Branch = branch
	} else {
		stashed, err := git.Stash(ctx)
		if err != nil {
			log.Info("stash failed, pulling anyway", "error", err.Error())
		} else if stashed {
			log.Info("stashed local modifications", "dir", dir)
		}
		co.Stashed = stashed

		branch, err := s.pull(ctx, log, git, svc, branches)
		if err != nil {
			return nil, err
		}
		co.Branch = branch
	}

	rev, err := git.Revision(ctx)
	if err != nil {
		return nil, err
	}
	co.Revision = rev

	log.V(1).Info("synced", "branch", co.Branch, "revision", co.Revision, "cloned", co.Cloned)

	return co, nil
}

func (s *Syncer) pull(ctx context.Context, log logr.Logger, git *gitops.Client, svc confapi.Service, branches []string) (string, error) {
	candidates := s.Candidates(ctx, svc, branches)

	var lastErr error

	for _, b := range candidates {
		err := git.Pull(ctx, "origin", b)
		if err == nil {
			return b, nil
		}

		lastErr = err

		if ctx.Err() != nil || cmdsite.IsTimeout(err) {
			break
		}

		log.V(1).Info("pull failed, trying next branch", "branch", b, "error", err.Error())
	}

	if lastErr == nil {
		return "", fmt.Errorf("no branch to pull")
	}

	return "", fmt.Errorf("pulling %s (tried %s): %w", svc.Source, strings.Join(candidates, ", "), lastErr)
}

// Candidates returns the branches to try in order, without duplicates
func (s *Syncer) Candidates(ctx context.Context, svc confapi.Service, branches []string) []string {
	var all []string

	if s.GitHub != nil {
		if owner, repo, ok := gitops.OwnerRepo(svc.Source); ok {
			b, err := s.GitHub.DefaultBranch(ctx, owner, repo)
			if err != nil {
				s.Logger.V(1).Info("default branch lookup failed", "service", svc.Name, "repo", owner+"/"+repo, "error", err.Error())
			} else if b != "" {
				all = append(all, b)
			}
		}
	}

	all = append(all, branches...)

	seen := map[string]struct{}{}

	var r []string

	for _, b := range all {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		r = append(r, b)
	}

	return r
}

// isCheckout reports whether dir is an existing git working copy.
// A directory without .git is never overwritten.
func (s *Syncer) isCheckout(dir string) (bool, error) {
	if _, err := s.fs.Stat(filepath.Join(dir, ".git")); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	info, err := s.fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if !info.IsDir() {
		return false, fmt.Errorf("%s exists and is not a directory", dir)
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return false, err
	}

	if len(entries) > 0 {
		return false, fmt.Errorf("%s exists but is not a git checkout; move it away to let it be cloned", dir)
	}

	return false, nil
}
