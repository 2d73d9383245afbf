package version

import (
	"strings"
	"testing"
)

func TestFullIncludesProductAndCommit(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Product+" "+Version) || !strings.Contains(full, Commit) {
		t.Fatalf("unexpected version string: %s", full)
	}
}

func TestEnvironmentFallback(t *testing.T) {
	if env := Environment(func(string) string { return "" }); env != "development" {
		t.Fatalf("期望 development，得到 %s", env)
	}
	if env := Environment(func(string) string { return "production" }); env != "production" {
		t.Fatalf("期望 production，得到 %s", env)
	}
}
