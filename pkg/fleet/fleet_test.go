package fleet

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kylelemons/godebug/diff"
	"github.com/twpayne/go-vfs"
	"github.com/twpayne/go-vfs/vfst"
	"github.com/variantdev/fleet/pkg/builder"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/discovery"
	"github.com/variantdev/fleet/pkg/runlock"
	"github.com/variantdev/fleet/pkg/vhttpget"
	"gopkg.in/yaml.v3"
)

const (
	baseDir   = "/home/deploy/apps"
	caddyfile = baseDir + "/caddy/Caddyfile"
	ipifyURL  = "https://api.ipify.org"
	manifest  = "services:\n  app:\n    build: .\n"
	publicIP  = "203.0.113.10"
)

type fakeDNS map[string][]string

func (f fakeDNS) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, fmt.Errorf("lookup %s: no such host", host)
}

type fixture struct {
	t    *testing.T
	fs   *vfst.TestFS
	host *fakeHost
	dns  fakeDNS
	cfg  *confapi.Fleet

	alive bool
	runs  int
}

func newFixture(t *testing.T) (*fixture, func()) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/home/deploy": &vfst.Dir{Perm: 0755},
	})
	if err != nil {
		t.Fatal(err)
	}

	host := newFakeHost(fs)
	host.repos["https://github.com/acme/alpha.git"] = map[string]string{"docker-compose.yml": manifest, "main.go": "package main\n"}
	host.repos["https://github.com/acme/beta.git"] = map[string]string{"docker-compose.yml": manifest, "index.html": "<h1>beta</h1>\n"}
	host.ports["alpha"] = []string{"9000/tcp"}
	host.ports["beta"] = []string{"80/tcp"}

	f := &fixture{
		t:     t,
		fs:    fs,
		host:  host,
		dns:   fakeDNS{"probe.example.com": {publicIP}},
		alive: true,
		cfg: &confapi.Fleet{
			Domain: "example.com",
			Services: []confapi.Service{
				{Name: "alpha", Source: "https://github.com/acme/alpha.git", Port: 9000},
				{Name: "beta", Source: "https://github.com/acme/beta.git", Port: 80},
			},
		},
	}

	return f, cleanup
}

func (f *fixture) manager() *Manager {
	m, err := New(
		FS(f.fs),
		BaseDir(baseDir),
		Config(f.cfg),
		Commander(f.host.Exec),
		Resolver(f.dns),
		HTTPGetter(vhttpget.NewTester(map[string]interface{}{ipifyURL: publicIP + "\n"})),
		ProcessAlive(func(int) bool { return f.alive }),
		Now(func() time.Time { return time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC) }),
		RunIDs(func() string {
			f.runs++
			return fmt.Sprintf("run-%d", f.runs)
		}),
	)
	if err != nil {
		f.t.Fatal(err)
	}
	return m
}

func (f *fixture) run() *Report {
	r, err := f.manager().Run(context.Background())
	if err != nil {
		f.t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func (f *fixture) read(path string) string {
	bs, err := f.fs.ReadFile(path)
	if err != nil {
		f.t.Fatal(err)
	}
	return string(bs)
}

func statuses(r *Report) map[string]Status {
	m := map[string]Status{}
	for _, s := range r.Services {
		m[s.Name] = s.Status
	}
	return m
}

func TestRun_AlphaBeta(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	first := f.run()

	if first.Failed() != 0 {
		t.Fatalf("unexpected failures: %+v", first.Services)
	}

	for _, s := range first.Services {
		if !s.Cloned {
			t.Errorf("expected %s to be cloned on the first run", s.Name)
		}
	}

	expected := `# Managed by fleet. Changes are overwritten on every run.

alpha.example.com {
	reverse_proxy alpha_container:9000
}

beta.example.com {
	reverse_proxy beta_container:80
}
`
	if d := diff.Diff(expected, f.read(caddyfile)); d != "" {
		t.Errorf("unexpected Caddyfile after the first run:\n%s", d)
	}

	delete(f.host.repos["https://github.com/acme/beta.git"], "docker-compose.yml")

	second := f.run()

	if second.Failed() != 1 {
		t.Fatalf("unexpected failure count: expected=1, got=%d", second.Failed())
	}

	beta := second.Services[1]
	if beta.Name != "beta" || beta.Step != StepBuild || beta.Status != StatusFailed {
		t.Errorf("unexpected beta result: %+v", beta)
	}

	if !strings.Contains(beta.Error, builder.ErrNoManifest.Error()) {
		t.Errorf("unexpected beta error: %s", beta.Error)
	}

	expected = `# Managed by fleet. Changes are overwritten on every run.

alpha.example.com {
	reverse_proxy alpha_container:9000
}
`
	if d := diff.Diff(expected, f.read(caddyfile)); d != "" {
		t.Errorf("unexpected Caddyfile after the second run:\n%s", d)
	}

	log := f.read(baseDir + "/deploy.log")
	if got := strings.Count(log, "ERROR run-2: service failed"); got != 1 {
		t.Errorf("unexpected number of recoverable errors in run log: expected=1, got=%d\n%s", got, log)
	}
	if !strings.Contains(log, "INFO run-2: state Done") {
		t.Errorf("second run did not reach Done:\n%s", log)
	}

	vfst.RunTests(t, f.fs, "lock released",
		vfst.TestPath(baseDir+"/.deploy.lock.dir", vfst.TestDoesNotExist),
	)
}

func TestRun_Idempotent(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.run()
	first := f.read(caddyfile)

	r := f.run()
	second := f.read(caddyfile)

	if d := diff.Diff(first, second); d != "" {
		t.Errorf("Caddyfile changed between identical runs:\n%s", d)
	}

	if strings.Count(second, "alpha.example.com {") != 1 {
		t.Errorf("duplicate route entries:\n%s", second)
	}

	if r.Routes != 2 {
		t.Errorf("unexpected routes: expected=2, got=%d", r.Routes)
	}

	for _, s := range r.Services {
		if s.Cloned {
			t.Errorf("expected %s to be pulled on the second run", s.Name)
		}
	}

	if got := len(f.host.commands("git pull origin main")); got != 2 {
		t.Errorf("unexpected number of pulls: expected=2, got=%d", got)
	}

	if got := len(f.host.commands("docker network create")); got != 1 {
		t.Errorf("network created more than once: %d", got)
	}
}

func TestRun_Isolation(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.cfg.Services = []confapi.Service{
		{Name: "alpha", Source: "https://github.com/acme/alpha.git", Port: 9000},
		{Name: "gone", Source: "https://github.com/acme/gone.git", Port: 8080},
		{Name: "beta", Source: "https://github.com/acme/beta.git", Port: 80},
		{Name: "worker", Source: "https://github.com/acme/worker.git"},
		{Name: "multi", Source: "https://github.com/acme/multi.git", Port: 3000},
	}
	f.host.repos["https://github.com/acme/worker.git"] = map[string]string{"docker-compose.yml": manifest}
	f.host.repos["https://github.com/acme/multi.git"] = map[string]string{"docker-compose.yml": manifest}
	f.host.ports["multi"] = []string{"8080/tcp"}

	r := f.run()

	expected := map[string]Status{
		"alpha":  StatusOK,
		"gone":   StatusFailed,
		"beta":   StatusOK,
		"worker": StatusOK,
		"multi":  StatusFailed,
	}
	if d := cmp.Diff(expected, statuses(r)); d != "" {
		t.Errorf("unexpected statuses: %s", d)
	}

	if r.Failed() != 2 {
		t.Errorf("unexpected failure count: expected=2, got=%d", r.Failed())
	}

	if r.Services[1].Step != StepSync {
		t.Errorf("unexpected failed step for gone: %s", r.Services[1].Step)
	}

	if r.Services[4].Step != StepDiscover || !strings.Contains(r.Services[4].Error, discovery.ErrPortNotExposed.Error()) {
		t.Errorf("unexpected result for multi: %+v", r.Services[4])
	}

	if r.Services[3].Routed {
		t.Error("a service without a port must not be routed")
	}

	if r.Routes != 2 {
		t.Errorf("unexpected routes: expected=2, got=%d", r.Routes)
	}
}

func TestRun_MutualExclusion(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	hostname, _ := os.Hostname()

	holder := fmt.Sprintf("pid: 999999\nhostname: %s\nrunID: other\nstartedAt: 2026-10-19T02:59:00Z\n", hostname)
	if err := vfs.MkdirAll(f.fs, baseDir+"/.deploy.lock.dir", 0755); err != nil {
		t.Fatal(err)
	}
	if err := f.fs.WriteFile(baseDir+"/.deploy.lock.dir/holder.yaml", []byte(holder), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := f.manager().Run(context.Background())
	if !errors.Is(err, runlock.ErrLocked) {
		t.Fatalf("unexpected error: expected=%v, got=%v", runlock.ErrLocked, err)
	}

	if r != nil {
		t.Errorf("unexpected report: %+v", r)
	}

	if cmds := f.host.commands(""); len(cmds) != 0 {
		t.Errorf("a locked-out run must not run any command: %v", cmds)
	}

	vfst.RunTests(t, f.fs, "holder untouched",
		vfst.TestPath(baseDir+"/.deploy.lock.dir/holder.yaml", vfst.TestContentsString(holder)),
		vfst.TestPath(baseDir+"/alpha", vfst.TestDoesNotExist),
		vfst.TestPath(baseDir+"/"+ReportFile, vfst.TestDoesNotExist),
	)

	f.alive = false

	if _, err := f.manager().Run(context.Background()); err != nil {
		t.Fatalf("expected the dead holder's lock to be reclaimed, got %v", err)
	}
}

func TestRun_RouteRegeneration(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.run()

	f.host.ports["alpha"] = []string{"9001/tcp"}

	r := f.run()

	if got := statuses(r)["alpha"]; got != StatusFailed {
		t.Errorf("unexpected alpha status: %s", got)
	}

	content := f.read(caddyfile)
	if strings.Contains(content, "alpha") {
		t.Errorf("stale route for alpha survived:\n%s", content)
	}
	if !strings.Contains(content, "beta.example.com {") {
		t.Errorf("route for beta missing:\n%s", content)
	}
}

func TestRun_TLSMode(t *testing.T) {
	testcases := []struct {
		name     string
		dns      fakeDNS
		expected string
		site     string
		ports    string
	}{
		{
			name:     "same address",
			dns:      fakeDNS{"probe.example.com": {publicIP}},
			expected: "direct",
			site:     "\nalpha.example.com {",
			ports:    "-p 80:80 -p 443:443",
		},
		{
			name:     "different address",
			dns:      fakeDNS{"probe.example.com": {"104.16.0.1"}},
			expected: "passthrough",
			site:     "\nhttp://alpha.example.com {",
			ports:    "-p 80:80 -v",
		},
		{
			name:     "unknown",
			dns:      fakeDNS{},
			expected: "passthrough",
			site:     "\nhttp://alpha.example.com {",
			ports:    "-p 80:80 -v",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			f, cleanup := newFixture(t)
			defer cleanup()

			f.dns = tc.dns

			r := f.run()

			if r.TLSMode != tc.expected {
				t.Errorf("unexpected TLS mode: expected=%s, got=%s", tc.expected, r.TLSMode)
			}

			content := f.read(caddyfile)
			if !strings.Contains(content, tc.site) {
				t.Errorf("expected Caddyfile to contain %q:\n%s", tc.site, content)
			}

			if tc.expected == "passthrough" && !strings.Contains(content, "auto_https off") {
				t.Errorf("passthrough Caddyfile must disable automatic HTTPS:\n%s", content)
			}

			runs := f.host.commands("docker run")
			if len(runs) != 1 || !strings.Contains(runs[0], tc.ports) {
				t.Errorf("unexpected proxy runs: %v", runs)
			}
		})
	}
}

func TestRun_StepTimeout(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.cfg.Timeouts.Build = 50 * time.Millisecond
	f.host.hang["alpha"] = true

	r := f.run()

	alpha := r.Services[0]
	if alpha.Status != StatusTimedOut || alpha.Step != StepBuild {
		t.Errorf("unexpected alpha result: %+v", alpha)
	}

	if got := statuses(r)["beta"]; got != StatusOK {
		t.Errorf("unexpected beta status: %s", got)
	}
}

func TestRun_FatalNetwork(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.host.networkCreateErr = true

	r, err := f.manager().Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if r == nil || r.Fatal == "" {
		t.Fatalf("expected a report of the aborted run, got %+v", r)
	}

	if cmds := f.host.commands("git"); len(cmds) != 0 {
		t.Errorf("no service may be synced after a fatal error: %v", cmds)
	}

	vfst.RunTests(t, f.fs, "lock released",
		vfst.TestPath(baseDir+"/.deploy.lock.dir", vfst.TestDoesNotExist),
	)
}

func TestRun_Report(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.run()

	var r Report
	if err := yaml.Unmarshal([]byte(f.read(baseDir+"/"+ReportFile)), &r); err != nil {
		t.Fatal(err)
	}

	expected := []ServiceResult{
		{Name: "alpha", Status: StatusOK, Branch: "main", Revision: "abc123", Cloned: true, Upstream: "alpha_container:9000", Routed: true},
		{Name: "beta", Status: StatusOK, Branch: "main", Revision: "abc123", Cloned: true, Upstream: "beta_container:80", Routed: true},
	}

	if d := cmp.Diff(expected, r.Services); d != "" {
		t.Errorf("unexpected services in report: %s", d)
	}

	if r.RunID != "run-1" || r.TLSMode != "direct" || r.Strategy != "static" || r.Routes != 2 {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestRun_Labels(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	f.cfg.Strategy = confapi.StrategyLabels

	r := f.run()

	if r.Failed() != 0 {
		t.Fatalf("unexpected failures: %+v", r.Services)
	}

	if cmds := f.host.commands("docker inspect"); len(cmds) != 0 {
		t.Errorf("label strategy must not discover containers: %v", cmds)
	}

	runs := f.host.commands("docker run")
	if len(runs) != 1 || !strings.Contains(runs[0], "CADDY_INGRESS_NETWORKS=web") {
		t.Errorf("unexpected proxy runs: %v", runs)
	}

	vfst.RunTests(t, f.fs, "no generated routes",
		vfst.TestPath(caddyfile, vfst.TestDoesNotExist),
	)
}

func TestRun_PushesMetrics(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	var paths []string
	var bodies []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bs, _ := ioutil.ReadAll(r.Body)
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, string(bs))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f.cfg.Metrics.PushGateway = srv.URL

	f.run()

	if len(paths) != 1 || !strings.HasPrefix(paths[0], "/metrics/job/fleet/host/") {
		t.Fatalf("unexpected pushes: %v", paths)
	}

	if !strings.Contains(bodies[0], "fleet_step_handled_total") {
		t.Errorf("pushed metrics lack per-step counters")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	testcases := []struct {
		name     string
		services []confapi.Service
		expected string
	}{
		{
			name:     "path traversal",
			services: []confapi.Service{{Name: "../escape", Source: "https://github.com/acme/escape.git"}},
			expected: `name "../escape" is not a valid DNS label`,
		},
		{
			name:     "not a host label",
			services: []confapi.Service{{Name: "Alpha_1", Source: "https://github.com/acme/alpha.git"}},
			expected: `name "Alpha_1" is not a valid DNS label`,
		},
		{
			name: "duplicate",
			services: []confapi.Service{
				{Name: "alpha", Source: "https://github.com/acme/alpha.git"},
				{Name: "alpha", Source: "https://github.com/acme/alpha2.git"},
			},
			expected: `duplicate service name "alpha"`,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(
				BaseDir(baseDir),
				Config(&confapi.Fleet{Domain: "example.com", Services: tc.services}),
			)
			if err == nil {
				t.Fatalf("expected error, got manager for %v", m.Fleet.Services)
			}
			if !strings.Contains(err.Error(), tc.expected) {
				t.Errorf("unexpected error: expected=%s, got=%v", tc.expected, err)
			}
		})
	}
}
