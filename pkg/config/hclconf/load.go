package hclconf

import (
	"fmt"
	"time"

	hcl2 "github.com/hashicorp/hcl/v2"
	gohcl2 "github.com/hashicorp/hcl/v2/gohcl"
	hcl2parse "github.com/hashicorp/hcl/v2/hclparse"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

type Loader struct {
	Parser *hcl2parse.Parser

	// Env is exposed to expressions as env.NAME
	Env map[string]string
}

func NewLoader(env map[string]string) *Loader {
	return &Loader{
		Parser: hcl2parse.NewParser(),
		Env:    env,
	}
}

// Parse decodes an HCL fleet file. Files ending with .json are parsed as HCL's JSON syntax.
func (l *Loader) Parse(src []byte, filename string) (*Config, error) {
	var f *hcl2.File
	var diags hcl2.Diagnostics

	if len(filename) > 5 && filename[len(filename)-5:] == ".json" {
		f, diags = l.Parser.ParseJSON(src, filename)
	} else {
		f, diags = l.Parser.ParseHCL(src, filename)
	}
	if diags.HasErrors() {
		// We return the diags as an implementation of error, which the
		// caller than then type-assert if desired to recover the individual
		// diagnostics.
		return nil, diags
	}

	env := map[string]cty.Value{}
	for k, v := range l.Env {
		env[k] = cty.StringVal(v)
	}

	envVal := cty.MapValEmpty(cty.String)
	if len(env) > 0 {
		envVal = cty.MapVal(env)
	}

	ctx := &hcl2.EvalContext{
		Variables: map[string]cty.Value{
			"env": envVal,
		},
		Functions: map[string]function.Function{
			"lower": stdlib.LowerFunc,
			"upper": stdlib.UpperFunc,
		},
	}

	config := &Config{}

	diags = gohcl2.DecodeBody(f.Body, ctx, config)
	if diags.HasErrors() {
		return nil, diags
	}

	return config, nil
}

func (c *Config) ToFleet() (*confapi.Fleet, error) {
	f := &confapi.Fleet{
		Domain:         c.Domain,
		ProbeSubdomain: str(c.ProbeSubdomain),
		Network:        str(c.Network),
		Strategy:       confapi.Strategy(str(c.Strategy)),
		Manifest:       str(c.Manifest),
		Branches:       c.Branches,
		PublicIPURL:    str(c.PublicIPURL),
	}

	if p := c.Proxy; p != nil {
		f.Proxy = confapi.Proxy{
			Container:       str(p.Container),
			Image:           str(p.Image),
			LabelsImage:     str(p.LabelsImage),
			PassthroughPort: integer(p.PassthroughPort),
		}
	}

	if r := c.Runtime; r != nil {
		f.Runtime = confapi.Runtime{
			InstallScript:     str(r.InstallScript),
			ComposeConstraint: str(r.ComposeConstraint),
		}
	}

	if m := c.Metrics; m != nil {
		f.Metrics.PushGateway = str(m.PushGateway)
	}

	type duration struct {
		name string
		src  *string
		dst  *time.Duration
	}

	var durations []duration

	if t := c.Timeouts; t != nil {
		durations = append(durations,
			duration{"timeouts.sync", t.Sync, &f.Timeouts.Sync},
			duration{"timeouts.build", t.Build, &f.Timeouts.Build},
			duration{"timeouts.discover", t.Discover, &f.Timeouts.Discover},
			duration{"timeouts.proxy", t.Proxy, &f.Timeouts.Proxy},
			duration{"timeouts.install", t.Install, &f.Timeouts.Install},
		)
	}

	if l := c.Lock; l != nil {
		durations = append(durations, duration{"lock.stale_after", l.StaleAfter, &f.Lock.StaleAfter})
	}

	for _, d := range durations {
		v, err := confapi.ParseDuration(str(d.src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	for _, s := range c.Services {
		f.Services = append(f.Services, confapi.Service{
			Name:          s.Name,
			Source:        s.Source,
			Port:          integer(s.Port),
			ContainerHint: str(s.ContainerHint),
			Branches:      s.Branches,
			Manifest:      str(s.Manifest),
		})
	}

	return f, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func integer(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
