package shared

import (
	"strings"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestGetBaseDescription(t *testing.T) {
	t.Parallel()

	desc := GetBaseDescription()

	if desc == "" {
		t.Error("GetBaseDescription() should not return empty string")
	}

	for _, proto := range []string{"tcp", "udp"} {
		if !strings.Contains(desc, proto) {
			t.Errorf("description should mention %s protocol", proto)
		}
	}
}

func flagNames(flags []cli.Flag) map[string]bool {
	names := make(map[string]bool)
	for _, flag := range flags {
		if n := flag.Names(); len(n) > 0 {
			names[n[0]] = true
		}
	}
	return names
}

func TestGetCommonFlags(t *testing.T) {
	t.Parallel()

	names := flagNames(GetCommonFlags())
	for _, name := range []string{ConfigFlag, VerboseFlag} {
		if !names[name] {
			t.Errorf("expected flag %q not found", name)
		}
	}
}

func TestGetServeFlags(t *testing.T) {
	t.Parallel()

	names := flagNames(GetServeFlags())
	for _, name := range []string{EndpointFlag, FPSFlag, MaxCatchUpFlag, ConsoleFlag} {
		if !names[name] {
			t.Errorf("expected flag %q not found", name)
		}
	}
}

func TestFlagNamesUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	flags := append(GetCommonFlags(), GetServeFlags()...)
	for _, flag := range flags {
		for _, name := range flag.Names() {
			if seen[name] {
				t.Errorf("flag name or alias %q used twice", name)
			}
			seen[name] = true
		}
	}
}
