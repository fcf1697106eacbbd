package fleet

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/installer"
	"github.com/variantdev/fleet/pkg/shell"
	"github.com/variantdev/fleet/pkg/syncer"
	"github.com/variantdev/fleet/pkg/tlsmode"
	"github.com/variantdev/fleet/pkg/vhttpget"
)

type Option interface {
	SetOption(m *Manager) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(m *Manager) error {
	m.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(m *Manager) error {
	m.fs = s.f
	return nil
}

// Commander replaces the function every git, docker, sh and systemctl command is run with
func Commander(e shell.Exec) Option {
	return &cmdrOption{e: e}
}

type cmdrOption struct {
	e shell.Exec
}

func (s *cmdrOption) SetOption(m *Manager) error {
	m.exec = s.e
	return nil
}

func BaseDir(dir string) Option {
	return &baseDirOption{d: dir}
}

type baseDirOption struct {
	d string
}

func (s *baseDirOption) SetOption(m *Manager) error {
	m.BaseDir = s.d
	return nil
}

func Config(f *confapi.Fleet) Option {
	return &configOption{f: f}
}

type configOption struct {
	f *confapi.Fleet
}

func (s *configOption) SetOption(m *Manager) error {
	m.Fleet = s.f
	return nil
}

// Resolver replaces the DNS resolver the probe domain is looked up with
func Resolver(r tlsmode.Resolver) Option {
	return &resolverOption{r: r}
}

type resolverOption struct {
	r tlsmode.Resolver
}

func (s *resolverOption) SetOption(m *Manager) error {
	m.dns = s.r
	return nil
}

func HTTPGetter(g vhttpget.Getter) Option {
	return &httpGetterOption{g: g}
}

type httpGetterOption struct {
	g vhttpget.Getter
}

func (s *httpGetterOption) SetOption(m *Manager) error {
	m.httpGetter = s.g
	return nil
}

// GitHub enables looking up the default branch of GitHub-hosted services
func GitHub(g syncer.BranchLookup) Option {
	return &githubOption{g: g}
}

type githubOption struct {
	g syncer.BranchLookup
}

func (s *githubOption) SetOption(m *Manager) error {
	m.github = s.g
	return nil
}

// Fetcher replaces the go-getter backed downloader of the runtime install script
func Fetcher(f installer.Fetcher) Option {
	return &fetcherOption{f: f}
}

type fetcherOption struct {
	f installer.Fetcher
}

func (s *fetcherOption) SetOption(m *Manager) error {
	m.fetcher = s.f
	return nil
}

func ProcessAlive(f func(pid int) bool) Option {
	return &processAliveOption{f: f}
}

type processAliveOption struct {
	f func(int) bool
}

func (s *processAliveOption) SetOption(m *Manager) error {
	m.processAlive = s.f
	return nil
}

func Now(f func() time.Time) Option {
	return &nowOption{f: f}
}

type nowOption struct {
	f func() time.Time
}

func (s *nowOption) SetOption(m *Manager) error {
	m.now = s.f
	return nil
}

// RunIDs replaces the generator of run IDs
func RunIDs(f func() string) Option {
	return &runIDsOption{f: f}
}

type runIDsOption struct {
	f func() string
}

func (s *runIDsOption) SetOption(m *Manager) error {
	m.newRunID = s.f
	return nil
}
