// Package releases fetches the watcher release manifest and installs the
// watchers it lists into the discovery directory.
package releases

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Release is one manifest row. The column order is fixed; extra trailing
// columns are ignored.
type Release struct {
	Name          string
	OS            string
	DisplayServer string
	Version       string
	Arch          string
	ReleaseDate   string
	Link          string
}

const manifestColumns = 7

var ErrMalformedManifest = errors.New("malformed releases manifest")

// ParseManifest reads a CSV manifest whose first line is a header.
func ParseManifest(r io.Reader) ([]Release, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var releases []Release
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedManifest, line, err)
		}
		if line == 1 {
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < manifestColumns {
			return nil, fmt.Errorf("%w: line %d: expected %d columns, got %d", ErrMalformedManifest, line, manifestColumns, len(record))
		}
		release := Release{
			Name:          strings.TrimSpace(record[0]),
			OS:            strings.ToLower(strings.TrimSpace(record[1])),
			DisplayServer: strings.ToLower(strings.TrimSpace(record[2])),
			Version:       strings.TrimSpace(record[3]),
			Arch:          strings.ToLower(strings.TrimSpace(record[4])),
			ReleaseDate:   strings.TrimSpace(record[5]),
			Link:          strings.TrimSpace(record[6]),
		}
		if release.Link == "" {
			return nil, fmt.Errorf("%w: line %d: empty link", ErrMalformedManifest, line)
		}
		releases = append(releases, release)
	}
	return releases, nil
}

// Platform describes the machine a release must run on.
type Platform struct {
	GOOS   string
	GOARCH string
	// Wayland selects wayland builds on Linux; x11 otherwise.
	Wayland bool
}

// Select returns the releases that match platform, in manifest order.
func Select(releases []Release, platform Platform) []Release {
	osName := manifestOS(platform.GOOS)
	if osName == "" {
		return nil
	}
	displayServer := ""
	if platform.GOOS == "linux" {
		displayServer = "x11"
		if platform.Wayland {
			displayServer = "wayland"
		}
	}

	var selected []Release
	for _, release := range releases {
		if release.OS != osName {
			continue
		}
		if displayServer != "" && release.DisplayServer != "" && release.DisplayServer != displayServer {
			continue
		}
		if release.Arch != "" && !archMatches(release.Arch, platform.GOARCH) {
			continue
		}
		selected = append(selected, release)
	}
	return selected
}

func manifestOS(goos string) string {
	switch goos {
	case "linux", "windows":
		return goos
	case "darwin":
		return "macos"
	default:
		return ""
	}
}

func archMatches(arch, goarch string) bool {
	switch arch {
	case goarch:
		return true
	case "x86_64", "x64":
		return goarch == "amd64"
	case "aarch64":
		return goarch == "arm64"
	case "x86", "i386", "i686":
		return goarch == "386"
	}
	return false
}
