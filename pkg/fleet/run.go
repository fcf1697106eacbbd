package fleet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/builder"
	"github.com/variantdev/fleet/pkg/cmdsite"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/discovery"
	"github.com/variantdev/fleet/pkg/runlock"
	"github.com/variantdev/fleet/pkg/runlog"
	"github.com/variantdev/fleet/pkg/syncer"
	"github.com/variantdev/fleet/pkg/telemetry"
)

type State string

const (
	StateInit         State = "Init"
	StateLockHeld     State = "LockHeld"
	StateDepsReady    State = "DepsReady"
	StateNetworkReady State = "NetworkReady"
	StateSynced       State = "Synced"
	StateBuilt        State = "Built"
	StateDiscovered   State = "Discovered"
	StateRouted       State = "Routed"
	StateProxyRunning State = "ProxyRunning"
	StateDone         State = "Done"
)

// Run deploys every service of the fleet once.
// A non-nil error means the run was aborted. Per-service failures are only recorded in the report.
// The report is nil when the run failed before acquiring the lock.
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	runID := m.newRunID()

	if err := vfs.MkdirAll(m.fs, m.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating base directory %s: %w", m.BaseDir, err)
	}

	sink, err := runlog.Open(m.fs, filepath.Join(m.BaseDir, LogFile))
	if err != nil {
		return nil, err
	}
	defer sink.Close()
	sink.Now = m.now

	log := runlog.New(sink, m.Logger).WithName(runID)

	transition(log, StateInit, "basedir", m.BaseDir, "services", len(m.Fleet.Services))

	locks := runlock.New(m.fs, m.BaseDir,
		runlock.Logger(log),
		runlock.StaleAfter(m.Fleet.Lock.StaleAfter),
		runlock.ProcessAlive(m.processAlive),
		runlock.Now(m.now),
	)

	lock, err := locks.Acquire(runID)
	if err != nil {
		log.Error(err, "could not acquire lock")
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Error(err, "could not release lock")
		}
	}()

	transition(log, StateLockHeld, "lock", locks.Dir)

	r := &Report{
		RunID:     runID,
		StartedAt: m.now(),
		Strategy:  string(m.Fleet.Strategy),
	}

	metrics := telemetry.NewMetrics("fleet", []string{"service", "step"})
	metrics.EnableHandlingTimeHistogram()

	err = m.run(ctx, log, r, metrics)

	r.FinishedAt = m.now()
	if err != nil {
		r.Fatal = err.Error()
		log.Error(err, "run aborted")
	}

	if werr := writeReport(m.fs, m.BaseDir, r); werr != nil {
		log.Error(werr, "could not write report")
	}

	if url := m.Fleet.Metrics.PushGateway; url != "" {
		grouping := map[string]string{}
		if locks.Hostname != "" {
			grouping["host"] = locks.Hostname
		}
		if perr := metrics.Push(url, "fleet", grouping); perr != nil {
			log.Error(perr, "could not push metrics", "url", url)
		}
	}

	if err != nil {
		return r, err
	}

	transition(log, StateDone)

	log.Info("run finished",
		"services", len(r.Services),
		"failed", r.Failed(),
		"routes", r.Routes,
		"duration", r.Duration().Round(time.Millisecond).String(),
	)

	return r, nil
}

func (m *Manager) run(ctx context.Context, log logr.Logger, r *Report, metrics *telemetry.Metrics) error {
	c, err := m.components(log)
	if err != nil {
		return err
	}

	f := m.Fleet

	ictx, cancel := context.WithTimeout(ctx, f.Timeouts.Install)
	st, err := c.installer.Ensure(ictx)
	cancel()
	if err != nil {
		return err
	}

	transition(log, StateDepsReady, "docker", st.DockerVersion, "compose", st.ComposeVersion, "installed", st.Installed)

	nctx, cancel := context.WithTimeout(ctx, f.Timeouts.Proxy)
	created, err := c.network.EnsureNetwork(nctx, f.Network)
	cancel()
	if err != nil {
		return err
	}

	transition(log, StateNetworkReady, "network", f.Network, "created", created)

	tls := c.detector.Detect(ctx, f.ProbeDomain())
	r.TLSMode = string(tls.Mode)
	r.TLSReason = tls.Reason

	if err := c.publisher.Prepare(ctx, tls.Mode); err != nil {
		return err
	}

	for _, svc := range f.Services {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}

		start := m.now()
		res := m.deploy(ctx, log.WithValues("service", svc.Name), c, metrics, svc)
		if err := metrics.Observe(start, m.now(), string(res.Status), svc.Name); err != nil {
			log.V(1).Info("could not record metrics", "error", err.Error())
		}
		r.Services = append(r.Services, res)
	}

	pctx, cancel := context.WithTimeout(ctx, f.Timeouts.Proxy)
	err = c.publisher.Commit(pctx)
	cancel()
	if err != nil {
		return err
	}

	r.Routes = len(c.publisher.Routes())

	transition(log, StateProxyRunning, "container", f.Proxy.Container, "tls", string(tls.Mode), "routes", r.Routes)

	return nil
}

// deploy runs the per-service states. Any failure skips the rest of this service only.
func (m *Manager) deploy(ctx context.Context, log logr.Logger, c *components, metrics *telemetry.Metrics, svc confapi.Service) ServiceResult {
	f := m.Fleet

	step := func(s Step, timeout time.Duration, fn func(context.Context) error) *StepError {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := m.now()
		err := fn(sctx)

		if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !cmdsite.IsTimeout(err) {
			err = fmt.Errorf("%w after %s: %v", cmdsite.ErrTimedOut, timeout, err)
		}

		status := string(StatusOK)
		if err != nil {
			status = string(StatusFailed)
			if cmdsite.IsTimeout(err) {
				status = string(StatusTimedOut)
			}
		}
		if oerr := metrics.Observe(start, m.now(), status, svc.Name, string(s)); oerr != nil {
			log.V(1).Info("could not record metrics", "error", oerr.Error())
		}

		if err == nil {
			return nil
		}

		serr := &StepError{Service: svc.Name, Step: s, Err: err}

		log.Error(serr.Err, "service failed, continuing with the next one", "step", string(s), "timedOut", serr.TimedOut())

		return serr
	}

	res := ServiceResult{Name: svc.Name}

	var co *syncer.Checkout
	if err := step(StepSync, f.Timeouts.Sync, func(ctx context.Context) (err error) {
		co, err = c.syncer.Sync(ctx, svc, f.BranchesFor(svc))
		return err
	}); err != nil {
		return res.failed(err)
	}

	res.Branch = co.Branch
	res.Revision = co.Revision
	res.Cloned = co.Cloned

	transition(log, StateSynced, "branch", co.Branch, "revision", co.Revision, "cloned", co.Cloned)

	var group *builder.ContainerGroup
	if err := step(StepBuild, f.Timeouts.Build, func(ctx context.Context) (err error) {
		group, err = c.builder.BuildAndRun(ctx, co, f.ManifestFor(svc))
		return err
	}); err != nil {
		return res.failed(err)
	}

	transition(log, StateBuilt, "containers", len(group.ContainerIDs))

	res.Status = StatusOK

	if svc.Port == 0 {
		log.Info("no port declared, not routing")
		return res
	}

	var addr *discovery.Address

	if c.publisher.NeedsDiscovery() {
		if err := step(StepDiscover, f.Timeouts.Discover, func(ctx context.Context) (err error) {
			addr, err = c.discoverer.Discover(ctx, group, svc.Port, svc.ContainerHint)
			return err
		}); err != nil {
			return res.failed(err)
		}

		res.Upstream = addr.String()

		transition(log, StateDiscovered, "upstream", addr.String())
	}

	if err := step(StepRoute, f.Timeouts.Proxy, func(ctx context.Context) error {
		return c.publisher.Add(ctx, svc, addr)
	}); err != nil {
		return res.failed(err)
	}

	res.Routed = c.publisher.NeedsDiscovery()

	transition(log, StateRouted, "host", f.Host(svc))

	return res
}

func transition(log logr.Logger, s State, keysAndValues ...interface{}) {
	log.Info("state "+string(s), keysAndValues...)
}
