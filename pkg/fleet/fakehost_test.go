package fleet

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/shell"
)

// fakeHost answers git and docker commands from in-memory repositories and containers,
// materializing clones and pulls on fs.
type fakeHost struct {
	mu sync.Mutex

	fs vfs.FS

	// repos maps a source URL to the files of its default branch
	repos map[string]map[string]string
	// ports maps a compose project to the ports its only container exposes
	ports map[string][]string
	// hang makes compose up of the project block until its context is done
	hang map[string]bool

	networkExists    bool
	networkCreateErr bool

	checkouts map[string]string
	cmds      []string
}

func newFakeHost(fs vfs.FS) *fakeHost {
	return &fakeHost{
		fs:        fs,
		repos:     map[string]map[string]string{},
		ports:     map[string][]string{},
		hang:      map[string]bool{},
		checkouts: map[string]string{},
	}
}

func (h *fakeHost) commands(prefix string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var r []string
	for _, c := range h.cmds {
		if strings.HasPrefix(c, prefix) {
			r = append(r, c)
		}
	}
	return r
}

func (h *fakeHost) Exec(ctx context.Context, cmd *shell.Command) shell.Result {
	h.mu.Lock()
	h.cmds = append(h.cmds, strings.TrimSpace(cmd.Name+" "+strings.Join(cmd.Args, " ")))
	hang := cmd.Name == "docker" && len(cmd.Args) > 5 && cmd.Args[5] == "up" && h.hang[cmd.Args[2]]
	h.mu.Unlock()

	if hang {
		<-ctx.Done()
		return shell.Result{ExitStatus: -1, Error: ctx.Err(), TimedOut: ctx.Err() == context.DeadlineExceeded}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	stdout, err := h.answer(cmd)
	if stdout != "" && cmd.Stdout != nil {
		io.WriteString(cmd.Stdout, stdout)
	}
	if err != nil {
		if cmd.Stderr != nil {
			io.WriteString(cmd.Stderr, err.Error()+"\n")
		}
		return shell.Result{ExitStatus: 1, Error: fmt.Errorf("exit status 1")}
	}
	return shell.Result{}
}

func (h *fakeHost) answer(cmd *shell.Command) (string, error) {
	args := cmd.Args

	switch cmd.Name {
	case "git":
		switch args[0] {
		case "clone":
			return "", h.clone(args[1], args[2])
		case "rev-parse":
			if args[1] == "--abbrev-ref" {
				return "main\n", nil
			}
			return "abc123\n", nil
		case "stash":
			return "No local changes to save\n", nil
		case "pull":
			if args[2] != "main" {
				return "", fmt.Errorf("fatal: couldn't find remote ref %s", args[2])
			}
			return "Already up to date.\n", h.checkout(cmd.Dir)
		}
	case "docker":
		switch args[0] {
		case "version":
			return "24.0.7\n", nil
		case "compose":
			if args[1] == "version" {
				return "2.24.5\n", nil
			}
			project := args[2]
			switch args[5] {
			case "up":
				return "", nil
			case "ps":
				return project + "-id\n", nil
			}
		case "network":
			switch args[1] {
			case "inspect":
				if !h.networkExists {
					return "", fmt.Errorf("Error: No such network: %s", args[2])
				}
				return "[{}]\n", nil
			case "create":
				if h.networkCreateErr {
					return "", fmt.Errorf("Error response from daemon: permission denied")
				}
				h.networkExists = true
				return args[2] + "-id\n", nil
			case "connect":
				return "", nil
			}
		case "update":
			return strings.Join(args[3:], "\n") + "\n", nil
		case "inspect":
			var objs []string
			for _, id := range args[1:] {
				project := strings.TrimSuffix(id, "-id")
				var exposed []string
				for _, p := range h.ports[project] {
					exposed = append(exposed, fmt.Sprintf("%q: {}", p))
				}
				objs = append(objs, fmt.Sprintf(`{"Id": %q, "Name": "/%s_container", "Config": {"ExposedPorts": {%s}}}`, id, project, strings.Join(exposed, ", ")))
			}
			return "[" + strings.Join(objs, ",") + "]\n", nil
		case "rm":
			return "", nil
		case "run":
			return "proxy-id\n", nil
		}
	}

	return "", fmt.Errorf("unexpected command: %s %s", cmd.Name, strings.Join(args, " "))
}

func (h *fakeHost) clone(src, dir string) error {
	if _, ok := h.repos[src]; !ok {
		return fmt.Errorf("fatal: repository '%s' not found", src)
	}

	if err := vfs.MkdirAll(h.fs, filepath.Join(dir, ".git"), 0755); err != nil {
		return err
	}

	h.checkouts[dir] = src

	return h.checkout(dir)
}

// checkout makes dir hold exactly the current files of its repository
func (h *fakeHost) checkout(dir string) error {
	files := h.repos[h.checkouts[dir]]

	infos, err := h.fs.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, info := range infos {
		if info.Name() == ".git" {
			continue
		}
		if _, ok := files[info.Name()]; !ok {
			if err := h.fs.RemoveAll(filepath.Join(dir, info.Name())); err != nil {
				return err
			}
		}
	}

	var names []string
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := h.fs.WriteFile(filepath.Join(dir, n), []byte(files[n]), 0644); err != nil {
			return err
		}
	}

	return nil
}
