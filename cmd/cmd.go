package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/fleet/pkg/config/loader"
	"github.com/variantdev/fleet/pkg/fleet"
	"github.com/variantdev/fleet/pkg/gitrepo"
	"github.com/variantdev/fleet/pkg/loginfra"
	"k8s.io/klog/klogr"
)

const (
	ExitOK             = 0
	ExitFatal          = 1
	ExitPartialFailure = 2

	BaseDirEnv = "FLEET_BASE_DIR"
	ConfigEnv  = "FLEET_CONFIG"

	DefaultConfigFile = "fleet.yaml"
)

type options struct {
	configPath          string
	baseDir             string
	allowPartialFailure bool
	dryRunTLS           bool
}

func Execute() {
	log := klogr.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, log, os.Args[1:])

	stop()

	os.Exit(code)
}

func run(ctx context.Context, log logr.Logger, args []string) int {
	code := ExitOK

	opts := &options{}

	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Deploy every service of the fleet onto this host and route them through Caddy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := deploy(ctx, log, opts)
			code = c
			return err
		},
	}

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", os.Getenv(ConfigEnv), "Path to the fleet file. Files ending with .hcl are read as HCL. Defaults to BASE_DIR/"+DefaultConfigFile)
	flags.StringVar(&opts.baseDir, "base-dir", os.Getenv(BaseDirEnv), "Directory holding checkouts, the run log and the lock. Defaults to ~/apps of the sudo-invoking user")
	flags.BoolVar(&opts.allowPartialFailure, "allow-partial-failure", false, "Exit with 0 even when some services failed")
	flags.BoolVar(&opts.dryRunTLS, "dry-run-tls", false, "Print the detected TLS mode and exit without deploying")

	fs := loginfra.Init()

	// Hand parsing of remaining flags to pflags and cobra
	pflag.CommandLine.AddGoFlagSet(fs)

	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		log.Error(err, err.Error())
		if code == ExitOK {
			code = ExitFatal
		}
	}

	return code
}

func deploy(ctx context.Context, log logr.Logger, opts *options) (int, error) {
	baseDir := opts.baseDir
	if baseDir == "" {
		home, err := homeDir()
		if err != nil {
			return ExitFatal, err
		}
		baseDir = filepath.Join(home, "apps")
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = filepath.Join(baseDir, DefaultConfigFile)
	}

	cfg, err := loader.Load(vfs.HostOSFS, configPath)
	if err != nil {
		return ExitFatal, err
	}

	mopts := []fleet.Option{
		fleet.Logger(log),
		fleet.BaseDir(baseDir),
		fleet.Config(cfg),
	}

	if os.Getenv("GITHUB_TOKEN") != "" {
		mopts = append(mopts, fleet.GitHub(gitrepo.NewClient(ctx)))
	}

	m, err := fleet.New(mopts...)
	if err != nil {
		return ExitFatal, err
	}

	if opts.dryRunTLS {
		d, err := m.DetectTLS(ctx)
		if err != nil {
			return ExitFatal, err
		}
		fmt.Printf("%s\t%s\n", d.Mode, d.Reason)
		return ExitOK, nil
	}

	r, err := m.Run(ctx)
	if err != nil {
		return ExitFatal, err
	}

	return exitCode(r, opts.allowPartialFailure), nil
}

func exitCode(r *fleet.Report, allowPartialFailure bool) int {
	if r.Failed() > 0 && !allowPartialFailure {
		return ExitPartialFailure
	}
	return ExitOK
}

// homeDir returns the home of the user who invoked sudo, or the current user's home
func homeDir() (string, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		if u, err := user.Lookup(name); err == nil && u.HomeDir != "" {
			return u.HomeDir, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("cannot determine the home directory; set --base-dir or " + BaseDirEnv)
	}

	return home, nil
}
