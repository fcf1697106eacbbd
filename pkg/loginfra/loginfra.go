package loginfra

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"k8s.io/klog"
)

// VerbosityEnv overrides the klog -v flag when set
const VerbosityEnv = "FLEET_VERBOSITY"

func NewFlagSet() *flag.FlagSet {
	// See https://flowerinthenight.com/blog/2019/02/05/golang-cobra-klog
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Suppress usage flag.ErrHelp
	fs.SetOutput(ioutil.Discard)

	return fs
}

// Init configures klog from the klog flags found in the command line and from VerbosityEnv.
// The returned flag set is meant to be added to the cobra command so that the flags show up in --help.
func Init() *flag.FlagSet {
	fs := AddKlogFlags(NewFlagSet())

	if err := Parse(fs, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return fs
}

// Parse parses only the args that name a flag of fs, so that it does not stop at
// the first flag owned by the command itself.
func Parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(Filter(fs, args)); err != nil && err != flag.ErrHelp {
		return err
	}
	return nil
}

// Filter returns the subset of args that are flags defined in fs, along with their values.
func Filter(fs *flag.FlagSet, args []string) []string {
	var known []string

	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			continue
		}

		name := strings.TrimLeft(a, "-")
		hasValue := false
		if eq := strings.Index(name, "="); eq >= 0 {
			name = name[:eq]
			hasValue = true
		}

		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		known = append(known, a)

		if hasValue || isBool(f) {
			continue
		}
		if i+1 < len(args) {
			i++
			known = append(known, args[i])
		}
	}

	return known
}

func isBool(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

func AddKlogFlags(fs *flag.FlagSet) *flag.FlagSet {
	klog.InitFlags(fs)

	// Configure klog
	fs.Set("skip_headers", "true")

	v := os.Getenv(VerbosityEnv)
	if v != "" {
		fmt.Fprintf(os.Stderr, "Setting log verbosity to %s\n", v)
		fs.Set("v", v)
	}

	return fs
}
