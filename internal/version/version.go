package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// Set at build time with -ldflags "-X awdesk/internal/version.Version=...".
var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Major     int    `json:"major" yaml:"major"`
	Minor     int    `json:"minor" yaml:"minor"`
	Patch     int    `json:"patch" yaml:"patch"`
	Built     string `json:"built,omitempty" yaml:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
}

// GetVersionInfo returns the ldflags values, falling back to the VCS
// revision recorded by the toolchain when no commit was injected.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
	if info.GitCommit == "" {
		info.GitCommit = vcsRevision()
	}
	return info
}

func (v VersionInfo) String() string {
	text := "awdesk " + v.Version
	if v.GitCommit != "" {
		commit := v.GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		text += fmt.Sprintf(" (%s)", commit)
	}
	if v.Built != "" {
		text += " built " + v.Built
	}
	return text
}

func vcsRevision() string {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
