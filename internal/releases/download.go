package releases

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"awdesk/internal/logging"

	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultTimeout     = 5 * time.Minute
)

type Downloader struct {
	Client      *http.Client
	ManifestURL string
	// Dest is the discovery directory the watchers are installed into.
	Dest        string
	Platform    Platform
	Concurrency int
	Logger      *logging.Logger
}

// FetchManifest downloads and parses the release manifest.
func (d *Downloader) FetchManifest(ctx context.Context) ([]Release, error) {
	if strings.TrimSpace(d.ManifestURL) == "" {
		return nil, fmt.Errorf("releases manifest url is empty")
	}
	body, err := d.get(ctx, d.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer body.Close()
	return ParseManifest(body)
}

// Run fetches the manifest and installs every release selected for the
// platform. It returns the names of the installed releases.
func (d *Downloader) Run(ctx context.Context) ([]string, error) {
	releases, err := d.FetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	selected := Select(releases, d.Platform)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no releases for %s/%s", d.Platform.GOOS, d.Platform.GOARCH)
	}
	if err := d.Install(ctx, selected); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(selected))
	for _, release := range selected {
		names = append(names, release.Name)
	}
	return names, nil
}

// Install downloads releases in parallel into Dest, unpacking archives.
// The first failure cancels the remaining downloads.
func (d *Downloader) Install(ctx context.Context, releases []Release) error {
	if strings.TrimSpace(d.Dest) == "" {
		return fmt.Errorf("download destination is empty")
	}
	if err := os.MkdirAll(d.Dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", d.Dest, err)
	}
	limit := d.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for _, release := range releases {
		group.Go(func() error {
			if err := d.installOne(groupCtx, release); err != nil {
				return fmt.Errorf("install %s: %w", release.Name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (d *Downloader) installOne(ctx context.Context, release Release) error {
	fileName, err := fileNameFromLink(release.Link)
	if err != nil {
		return err
	}
	target := filepath.Join(d.Dest, fileName)
	logger := d.logger()
	logger.Info("downloading module", map[string]string{
		logging.FieldModule: release.Name,
		"version":           release.Version,
		"url":               release.Link,
	})

	if err := d.download(ctx, release.Link, target); err != nil {
		return err
	}
	if !IsArchive(fileName) {
		return os.Chmod(target, 0o755)
	}
	if err := Extract(target, d.Dest); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		logger.Warn("remove archive failed", map[string]string{
			logging.FieldPath:  target,
			logging.FieldError: err.Error(),
		})
	}
	logger.Info("module installed", map[string]string{
		logging.FieldModule: release.Name,
		logging.FieldPath:   d.Dest,
	})
	return nil
}

// download writes to a temp file first so a failed transfer never leaves a
// truncated file behind.
func (d *Downloader) download(ctx context.Context, link, target string) error {
	body, err := d.get(ctx, link)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", link, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

func (d *Downloader) get(ctx context.Context, link string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", link, resp.Status)
	}
	return resp.Body, nil
}

func (d *Downloader) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.Discard()
	}
	return d.Logger
}

func fileNameFromLink(link string) (string, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("link %q has no file name", link)
	}
	return name, nil
}
