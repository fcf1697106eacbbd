package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-logr/logr"
	"github.com/variantdev/fleet/pkg/builder"
	"k8s.io/klog/klogr"
)

var (
	ErrPortNotExposed = errors.New("no container exposes the port")
	ErrAmbiguous      = errors.New("more than one container exposes the port")
)

// Address is where the proxy reaches a service on the shared network
type Address struct {
	Container string
	Port      int
}

func (a Address) String() string {
	return a.Container + ":" + strconv.Itoa(a.Port)
}

// Inspector returns the JSON array docker inspect prints for the containers
type Inspector interface {
	Inspect(ctx context.Context, ids ...string) ([]byte, error)
}

type Discoverer struct {
	Logger    logr.Logger
	Inspector Inspector
}

func New(i Inspector, logger logr.Logger) *Discoverer {
	if logger == nil {
		logger = klogr.New()
	}
	return &Discoverer{
		Logger:    logger,
		Inspector: i,
	}
}

// Discover finds the container of the group that exposes port/tcp.
// When several do, hint must select exactly one of them by exact name or substring.
func (d *Discoverer) Discover(ctx context.Context, g *builder.ContainerGroup, port int, hint string) (*Address, error) {
	bs, err := d.Inspector.Inspect(ctx, g.ContainerIDs...)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", g.Project, err)
	}

	var containers []interface{}
	if err := json.Unmarshal(bs, &containers); err != nil {
		return nil, fmt.Errorf("decoding docker inspect output: %w", err)
	}

	key := fmt.Sprintf("%d/tcp", port)

	var candidates []string

	for _, c := range containers {
		name, err := containerName(c)
		if err != nil {
			return nil, err
		}

		if exposes(c, key) {
			candidates = append(candidates, name)
		}
	}

	d.Logger.V(1).Info("discovery candidates", "project", g.Project, "port", key, "candidates", strings.Join(candidates, ","))

	name, err := pick(candidates, hint)
	if err != nil {
		return nil, fmt.Errorf("%s port %s: %w", g.Project, key, err)
	}

	return &Address{Container: name, Port: port}, nil
}

func pick(candidates []string, hint string) (string, error) {
	switch len(candidates) {
	case 0:
		return "", ErrPortNotExposed
	case 1:
		return candidates[0], nil
	}

	if hint != "" {
		var exact, partial []string
		for _, c := range candidates {
			if c == hint {
				exact = append(exact, c)
			} else if strings.Contains(c, hint) {
				partial = append(partial, c)
			}
		}

		if len(exact) == 1 {
			return exact[0], nil
		}

		if len(exact) == 0 && len(partial) == 1 {
			return partial[0], nil
		}
	}

	sorted := append([]string{}, candidates...)
	sort.Strings(sorted)

	return "", fmt.Errorf("%w: %s", ErrAmbiguous, strings.Join(sorted, ", "))
}

func containerName(c interface{}) (string, error) {
	got, err := jsonpath.Get("$.Name", c)
	if err != nil {
		return "", fmt.Errorf("reading container name: %w", err)
	}

	s, ok := got.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("unexpected type of container name: want string, got %T, value is %v", got, got)
	}

	return strings.TrimPrefix(s, "/"), nil
}

func exposes(c interface{}, key string) bool {
	for _, path := range []string{"$.Config.ExposedPorts", "$.NetworkSettings.Ports"} {
		got, err := jsonpath.Get(path, c)
		if err != nil {
			continue
		}

		if m, ok := got.(map[string]interface{}); ok {
			if _, ok := m[key]; ok {
				return true
			}
		}
	}

	return false
}
