package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/config/confapi"
	"github.com/variantdev/fleet/pkg/config/hclconf"
	"github.com/variantdev/fleet/pkg/config/yamlconf"
	"github.com/xeipuuv/gojsonschema"
)

// Load reads the fleet file at path, applies defaults and validates the result.
// Files ending with .hcl or .hcl.json are read as HCL, everything else as YAML.
func Load(fs vfs.FS, path string) (*confapi.Fleet, error) {
	bs, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fleet config: %w", err)
	}

	var f *confapi.Fleet

	if isHCL(path) {
		c, err := hclconf.NewLoader(environ()).Parse(bs, filepath.Base(path))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		f, err = c.ToFleet()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		spec, err := yamlconf.Parse(bs)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		f, err = spec.ToFleet()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	f.SetDefaults()

	if err := Validate(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

// Validate checks f against the fleet JSON schema and then against confapi's own invariants
func Validate(f *confapi.Fleet) error {
	schemaLoader := gojsonschema.NewStringLoader(fleetSchema)
	jsonLoader := gojsonschema.NewGoLoader(f)

	result, err := gojsonschema.Validate(schemaLoader, jsonLoader)
	if err != nil {
		return fmt.Errorf("validate: %v", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		sort.Strings(msgs)
		return fmt.Errorf("invalid fleet config: %s", strings.Join(msgs, "; "))
	}

	return f.Validate()
}

func isHCL(path string) bool {
	return strings.HasSuffix(path, ".hcl") || strings.HasSuffix(path, ".hcl.json")
}

func environ() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		i := strings.Index(kv, "=")
		if i <= 0 {
			continue
		}
		env[kv[:i]] = kv[i+1:]
	}
	return env
}
