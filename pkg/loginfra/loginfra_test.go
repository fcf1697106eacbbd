package loginfra

import (
	"flag"
	"strings"
	"testing"
)

func TestFilter(t *testing.T) {
	fs := NewFlagSet()
	fs.Int("v", 0, "")
	fs.Bool("logtostderr", true, "")

	testcases := []struct {
		args     []string
		expected []string
	}{
		{args: []string{"--config", "fleet.yaml", "-v", "2"}, expected: []string{"-v", "2"}},
		{args: []string{"-v=3", "--allow-partial-failure"}, expected: []string{"-v=3"}},
		{args: []string{"--logtostderr", "--base-dir", "/srv"}, expected: []string{"--logtostderr"}},
		{args: []string{"--", "-v", "2"}, expected: nil},
	}

	for _, tc := range testcases {
		actual := Filter(fs, tc.args)
		if strings.Join(actual, " ") != strings.Join(tc.expected, " ") {
			t.Errorf("unexpected args for %v: expected=%v, got=%v", tc.args, tc.expected, actual)
		}
	}
}

func TestParse(t *testing.T) {
	fs := flag.NewFlagSet("fleet", flag.ContinueOnError)
	v := fs.Int("v", 0, "")

	if err := Parse(fs, []string{"--dry-run-tls", "-v", "4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *v != 4 {
		t.Errorf("unexpected verbosity: expected=4, got=%d", *v)
	}
}
