package loader

import (
	"strings"
	"testing"

	"github.com/twpayne/go-vfs/vfst"
	"github.com/variantdev/fleet/pkg/config/confapi"
)

func TestLoad(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps/fleet.yaml": `
domain: example.com
services:
- name: alpha
  source: https://github.com/acme/alpha.git
  port: 9000
`,
		"/apps/fleet.hcl": `
domain   = "example.com"
strategy = "labels"

service "alpha" {
  source = "https://github.com/acme/alpha.git"
}
`,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	y, err := Load(fs, "/apps/fleet.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if y.Strategy != confapi.StrategyStatic {
		t.Errorf("unexpected strategy: expected=%s, got=%s", confapi.StrategyStatic, y.Strategy)
	}

	if y.Network != confapi.DefaultNetwork {
		t.Errorf("unexpected network: expected=%s, got=%s", confapi.DefaultNetwork, y.Network)
	}

	if y.Timeouts.Build != confapi.DefaultTimeouts.Build {
		t.Errorf("unexpected build timeout: expected=%s, got=%s", confapi.DefaultTimeouts.Build, y.Timeouts.Build)
	}

	if got := y.Host(y.Services[0]); got != "alpha.example.com" {
		t.Errorf("unexpected host: expected=alpha.example.com, got=%s", got)
	}

	h, err := Load(fs, "/apps/fleet.hcl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.Strategy != confapi.StrategyLabels {
		t.Errorf("unexpected strategy: expected=%s, got=%s", confapi.StrategyLabels, h.Strategy)
	}
}

func TestLoad_Invalid(t *testing.T) {
	testcases := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "missing domain",
			content: "services: []\n",
			errPart: "domain",
		},
		{
			name:    "bad strategy",
			content: "domain: example.com\nstrategy: dynamic\n",
			errPart: "strategy",
		},
		{
			name: "duplicate service",
			content: `
domain: example.com
services:
- {name: alpha, source: a}
- {name: alpha, source: b}
`,
			errPart: "duplicate service name",
		},
		{
			name:    "name is not a dns label",
			content: "domain: example.com\nservices:\n- {name: Alpha_1, source: a}\n",
			errPart: "not a valid DNS label",
		},
		{
			name:    "port out of range",
			content: "domain: example.com\nservices:\n- {name: alpha, source: a, port: 70000}\n",
			errPart: "port",
		},
		{
			name:    "missing source",
			content: "domain: example.com\nservices:\n- {name: alpha}\n",
			errPart: "source",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
				"/apps/fleet.yaml": tc.content,
			})
			if err != nil {
				t.Fatal(err)
			}
			defer cleanup()

			_, err = Load(fs, "/apps/fleet.yaml")
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !strings.Contains(err.Error(), tc.errPart) {
				t.Errorf("unexpected error: expected to contain %q, got=%s", tc.errPart, err.Error())
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/apps": &vfst.Dir{Perm: 0755},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if _, err := Load(fs, "/apps/fleet.yaml"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
