package version

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// setBuildVars overrides the ldflags variables for one test.
func setBuildVars(t *testing.T, values map[*string]string) {
	t.Helper()
	for target, value := range values {
		previous := *target
		*target = value
		t.Cleanup(func() { *target = previous })
	}
}

func TestGetVersionInfoParsesLdflags(t *testing.T) {
	setBuildVars(t, map[*string]string{
		&Version:   "1.2.3",
		&Major:     "1",
		&Minor:     "2",
		&Patch:     "3",
		&Built:     "2026-01-11T12:34:56Z",
		&GitCommit: "abc123",
	})

	want := VersionInfo{Version: "1.2.3", Major: 1, Minor: 2, Patch: 3, Built: "2026-01-11T12:34:56Z", GitCommit: "abc123"}
	if diff := cmp.Diff(want, GetVersionInfo()); diff != "" {
		t.Fatalf("version info mismatch (-want +got):\n%s", diff)
	}
}

func TestGetVersionInfoIgnoresBadNumbers(t *testing.T) {
	setBuildVars(t, map[*string]string{&Major: "x", &Minor: "", &Patch: "7"})

	info := GetVersionInfo()
	if info.Major != 0 || info.Minor != 0 || info.Patch != 7 {
		t.Fatalf("expected 0.0.7, got %d.%d.%d", info.Major, info.Minor, info.Patch)
	}
}

func TestVersionInfoString(t *testing.T) {
	info := VersionInfo{Version: "0.4.0", GitCommit: "0123456789abcdef", Built: "2026-10-01"}
	if got := info.String(); got != "awdesk 0.4.0 (0123456789ab) built 2026-10-01" {
		t.Fatalf("unexpected version string %q", got)
	}
	if got := (VersionInfo{Version: "dev"}).String(); got != "awdesk dev" {
		t.Fatalf("unexpected dev string %q", got)
	}
}
