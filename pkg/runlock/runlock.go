package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/process"
	"github.com/twpayne/go-vfs"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/klogr"
)

const (
	DirName    = ".deploy.lock.dir"
	HolderFile = "holder.yaml"
)

var ErrLocked = errors.New("another run holds the lock")

// Holder identifies the run that owns the lock
type Holder struct {
	PID       int       `yaml:"pid"`
	Hostname  string    `yaml:"hostname"`
	RunID     string    `yaml:"runID"`
	StartedAt time.Time `yaml:"startedAt"`
}

// HeldError is returned by Acquire when a live run holds the lock.
// It matches ErrLocked with errors.Is.
type HeldError struct {
	Dir string
	// Holder is nil when the holder file could not be read
	Holder *Holder
}

func (e *HeldError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("%v: %s exists without a readable %s; remove it manually if no run is active", ErrLocked, e.Dir, HolderFile)
	}
	return fmt.Sprintf("%v: run %s (pid %d on %s) since %s", ErrLocked, e.Holder.RunID, e.Holder.PID, e.Holder.Hostname, e.Holder.StartedAt.Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error {
	return ErrLocked
}

type Manager struct {
	Logger logr.Logger

	// Dir is the lock marker directory
	Dir string

	// StaleAfter allows reclaiming a lock held longer than this. Zero disables age-based reclaiming.
	StaleAfter time.Duration

	// Alive reports whether pid is a running process on this host
	Alive func(pid int) bool

	Now      func() time.Time
	Hostname string
	PID      int

	fs vfs.FS
}

type Option func(*Manager)

func Logger(l logr.Logger) Option {
	return func(m *Manager) {
		m.Logger = l
	}
}

func StaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		m.StaleAfter = d
	}
}

func ProcessAlive(f func(int) bool) Option {
	return func(m *Manager) {
		m.Alive = f
	}
}

func Now(f func() time.Time) Option {
	return func(m *Manager) {
		m.Now = f
	}
}

// New returns a Manager guarding baseDir with the marker directory baseDir/.deploy.lock.dir
func New(fs vfs.FS, baseDir string, opts ...Option) *Manager {
	hostname, _ := os.Hostname()

	m := &Manager{
		Logger:   klogr.New(),
		Dir:      filepath.Join(baseDir, DirName),
		Alive:    PidExists,
		Now:      time.Now,
		Hostname: hostname,
		PID:      os.Getpid(),
		fs:       fs,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// PidExists reports whether a process with the pid is running. Errors count as alive.
func PidExists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return ok
}

type Lock struct {
	Holder Holder

	m    *Manager
	once sync.Once
	err  error
}

// Acquire creates the marker directory or fails fast with a *HeldError.
// A lock left behind by a dead or stale holder is reclaimed once.
func (m *Manager) Acquire(runID string) (*Lock, error) {
	l, err := m.tryAcquire(runID)
	if err == nil {
		return l, nil
	}

	var held *HeldError
	if !errors.As(err, &held) || held.Holder == nil {
		return nil, err
	}

	reason := m.staleReason(held.Holder)
	if reason == "" {
		return nil, err
	}

	m.Logger.Info("WARNING: reclaiming stale lock", "dir", m.Dir, "holderRunID", held.Holder.RunID, "holderPID", held.Holder.PID, "reason", reason)

	if err := m.reclaim(runID, held.Holder); err != nil {
		return nil, err
	}

	return m.tryAcquire(runID)
}

// reclaim moves the marker aside before deleting it, so that of several runs reclaiming the same
// stale lock only one succeeds, and a lock taken over in the meantime is restored.
func (m *Manager) reclaim(runID string, stale *Holder) error {
	tomb := m.Dir + ".stale-" + runID

	if err := m.fs.Rename(m.Dir, tomb); err != nil {
		if os.IsNotExist(err) {
			// another run already removed it
			return nil
		}
		return fmt.Errorf("moving stale lock %s aside: %w", m.Dir, err)
	}

	h, err := readHolder(m.fs, tomb)
	if err != nil || h.RunID != stale.RunID {
		if rerr := m.fs.Rename(tomb, m.Dir); rerr != nil {
			return fmt.Errorf("restoring lock %s taken over during reclaim: %w", m.Dir, rerr)
		}
		if err != nil {
			return &HeldError{Dir: m.Dir}
		}
		return &HeldError{Dir: m.Dir, Holder: h}
	}

	if err := m.fs.RemoveAll(tomb); err != nil {
		return fmt.Errorf("removing stale lock %s: %w", tomb, err)
	}

	return nil
}

func (m *Manager) tryAcquire(runID string) (*Lock, error) {
	if err := m.fs.Mkdir(m.Dir, 0755); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock %s: %w", m.Dir, err)
		}
		h, rerr := readHolder(m.fs, m.Dir)
		if rerr != nil {
			m.Logger.V(1).Info("unreadable lock holder", "dir", m.Dir, "error", rerr.Error())
			return nil, &HeldError{Dir: m.Dir}
		}
		return nil, &HeldError{Dir: m.Dir, Holder: h}
	}

	h := Holder{
		PID:       m.PID,
		Hostname:  m.Hostname,
		RunID:     runID,
		StartedAt: m.Now().UTC(),
	}

	bs, err := yaml.Marshal(h)
	if err != nil {
		m.fs.RemoveAll(m.Dir)
		return nil, err
	}

	if err := m.fs.WriteFile(filepath.Join(m.Dir, HolderFile), bs, 0644); err != nil {
		m.fs.RemoveAll(m.Dir)
		return nil, fmt.Errorf("writing lock holder: %w", err)
	}

	m.Logger.V(1).Info("lock acquired", "dir", m.Dir, "runID", runID)

	return &Lock{Holder: h, m: m}, nil
}

func readHolder(fs vfs.FS, dir string) (*Holder, error) {
	bs, err := fs.ReadFile(filepath.Join(dir, HolderFile))
	if err != nil {
		return nil, err
	}

	var h Holder
	if err := yaml.Unmarshal(bs, &h); err != nil {
		return nil, err
	}

	if h.PID <= 0 {
		return nil, fmt.Errorf("holder has no pid")
	}

	return &h, nil
}

// staleReason returns why h may be reclaimed, or the empty string when it must be honored
func (m *Manager) staleReason(h *Holder) string {
	if h.Hostname == m.Hostname && !m.Alive(h.PID) {
		return "holder process is not running"
	}

	if m.StaleAfter > 0 && !h.StartedAt.IsZero() {
		if age := m.Now().Sub(h.StartedAt); age > m.StaleAfter {
			return fmt.Sprintf("held for %s, longer than %s", age.Round(time.Second), m.StaleAfter)
		}
	}

	return ""
}

// Release removes the marker directory unless another run has taken it over.
// Calling it more than once is a no-op.
func (l *Lock) Release() error {
	l.once.Do(func() {
		l.err = l.release()
	})
	return l.err
}

func (l *Lock) release() error {
	h, err := readHolder(l.m.fs, l.m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("releasing lock %s: %w", l.m.Dir, err)
	}

	if h.RunID != l.Holder.RunID {
		return fmt.Errorf("releasing lock %s: taken over by run %s (pid %d on %s)", l.m.Dir, h.RunID, h.PID, h.Hostname)
	}

	if err := l.m.fs.RemoveAll(l.m.Dir); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.m.Dir, err)
	}

	l.m.Logger.V(1).Info("lock released", "dir", l.m.Dir, "runID", l.Holder.RunID)

	return nil
}
