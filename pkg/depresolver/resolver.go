package depresolver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-getter/helper/url"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"
)

// Resolver is the caching resolver that downloads a go-getter URL once and
// returns the path to the local copy on subsequent calls.
type Resolver struct {
	Logger logr.Logger

	// Home is the cache directory fetched files are saved under
	Home string

	// GoGetterHome is the working directory to be used by go-getter for downloading the dependency
	// This differs from Home only when testing with go-vfs/vfst
	GoGetterHome string

	// Getter is the underlying implementation of getter used for fetching remote files
	Getter Getter

	DirExists  func(string) bool
	FileExists func(string) bool

	fs vfs.FS
}

type Option interface {
	SetOption(*Resolver) error
}

func Home(dir string) Option {
	return &homeOption{d: dir}
}

type homeOption struct {
	d string
}

func (s *homeOption) SetOption(r *Resolver) error {
	r.Home = s.d
	return nil
}

func GoGetterHome(dir string) Option {
	return &goGetterHomeOption{d: dir}
}

type goGetterHomeOption struct {
	d string
}

func (s *goGetterHomeOption) SetOption(r *Resolver) error {
	r.GoGetterHome = s.d
	return nil
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(r *Resolver) error {
	r.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(r *Resolver) error {
	r.fs = s.f
	return nil
}

func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{}

	for _, o := range opts {
		if err := o.SetOption(r); err != nil {
			return nil, err
		}
	}

	if r.Home == "" {
		return nil, fmt.Errorf("depresolver: home directory is required")
	}

	if r.GoGetterHome == "" {
		r.GoGetterHome = r.Home
	}

	if r.Logger == nil {
		r.Logger = klogr.New()
	}

	if r.fs == nil {
		r.fs = vfs.HostOSFS
	}

	if r.FileExists == nil {
		r.FileExists = func(path string) bool {
			s, err := r.fs.Stat(path)
			return err == nil && s != nil && !s.IsDir()
		}
	}

	if r.DirExists == nil {
		r.DirExists = func(path string) bool {
			s, err := r.fs.Stat(path)
			return err == nil && s != nil && s.IsDir()
		}
	}

	if r.Getter == nil {
		r.Getter = &GoGetter{Logger: r.Logger}
	}

	return r, nil
}

type InvalidURLError struct {
	err string
}

func (e InvalidURLError) Error() string {
	return e.err
}

type Source struct {
	Getter, Scheme, User, Host, Dir, File, RawQuery string
}

func Parse(goGetterSrc string) (*Source, error) {
	items := strings.Split(goGetterSrc, "::")
	var getter string
	switch len(items) {
	case 2:
		getter = items[0]
		goGetterSrc = items[1]
	}

	u, err := url.Parse(goGetterSrc)
	if err != nil {
		return nil, InvalidURLError{err: fmt.Sprintf("parse url: %v", err)}
	}

	if u.Scheme == "" {
		return nil, InvalidURLError{err: fmt.Sprintf("parse url: missing scheme - probably this is a local file path? %s", goGetterSrc)}
	}

	file := filepath.Base(u.Path)
	if file == "." || file == "/" {
		// e.g. https://get.docker.com serves the script at the root path
		file = "download"
	}

	return &Source{
		Getter:   getter,
		Scheme:   u.Scheme,
		User:     u.User.String(),
		Host:     u.Host,
		Dir:      u.Path,
		File:     file,
		RawQuery: u.RawQuery,
	}, nil
}

// FetchFile downloads the file at goGetterSrc unless it is already cached,
// and returns the path to the cached copy.
func (r *Resolver) FetchFile(ctx context.Context, goGetterSrc string) (string, error) {
	u, err := Parse(goGetterSrc)
	if err != nil {
		return "", err
	}

	query := u.RawQuery

	var getterSrc string

	if u.User == "" {
		getterSrc = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Dir)
	} else {
		getterSrc = fmt.Sprintf("%s://%s@%s%s", u.Scheme, u.User, u.Host, u.Dir)
	}

	if len(query) != 0 {
		getterSrc = strings.Join([]string{getterSrc, query}, "?")
	}

	replacer := strings.NewReplacer(":", "", "//", "_", "/", "_", ".", "_", "&", "_", "?", ".")
	getterDstDir := replacer.Replace(getterSrc)

	vfsLocalCopyDir := filepath.Join(r.Home, getterDstDir)
	vfsLocalCopy := filepath.Join(vfsLocalCopyDir, u.File)

	r.Logger.V(1).Info("fetching", "src", goGetterSrc, "cache-dir", vfsLocalCopyDir)

	if r.FileExists(vfsLocalCopyDir) {
		return "", fmt.Errorf("%s is not directory. please remove it so that it could be used for caching downloads", vfsLocalCopyDir)
	}

	if r.FileExists(vfsLocalCopy) {
		r.Logger.V(1).Info("cache hit", "path", vfsLocalCopy)
		return vfsLocalCopy, nil
	}

	if u.Getter != "" {
		getterSrc = u.Getter + "::" + getterSrc
	}

	// go-getter silently fails when the destination directory already exists.
	// So we create directories down to the parent directory of the target.
	if err := vfs.MkdirAll(r.fs, vfsLocalCopyDir, 0755); err != nil {
		return "", err
	}

	r.Logger.V(1).Info("downloading", "src", getterSrc, "dir", r.GoGetterHome, "dst", getterDstDir)

	if err := r.Getter.Get(ctx, r.GoGetterHome, getterSrc, filepath.Join(getterDstDir, u.File)); err != nil {
		if err2 := r.fs.RemoveAll(vfsLocalCopyDir); err2 != nil {
			return "", err2
		}
		return "", err
	}

	return vfsLocalCopy, nil
}

type Getter interface {
	Get(ctx context.Context, wd, src, dst string) error
}

type GoGetter struct {
	Logger logr.Logger
}

func (g *GoGetter) Get(ctx context.Context, wd, src, dst string) error {
	get := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     filepath.Join(wd, dst),
		Pwd:     wd,
		Mode:    getter.ClientModeFile,
		Options: []getter.ClientOption{},
	}

	g.Logger.V(1).Info("get", "wd", wd, "src", src, "dst", dst)

	if err := get.Get(); err != nil {
		return fmt.Errorf("get: %v", err)
	}

	return nil
}
