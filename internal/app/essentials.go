package app

import (
	"context"
	"errors"
	"runtime"
	"strings"

	"awdesk/internal/config"
	"awdesk/internal/logging"
	"awdesk/internal/releases"
)

// NewDownloader targets the configured discovery path with the releases
// manifest for the running platform.
func NewDownloader(cfg config.UserConfig, goos string, wayland bool, logger *logging.Logger) *releases.Downloader {
	if goos == "" {
		goos = runtime.GOOS
	}
	return &releases.Downloader{
		ManifestURL: cfg.Defaults.ReleasesURL,
		Dest:        cfg.Defaults.DiscoveryPath,
		Platform: releases.Platform{
			GOOS:    goos,
			GOARCH:  runtime.GOARCH,
			Wayland: wayland,
		},
		Logger: logger,
	}
}

// Installer fetches and installs watcher releases.
type Installer interface {
	Run(ctx context.Context) ([]string, error)
}

// EnsureEssentials installs the essential watchers when any is missing, or
// always when force is set, then rescans and announces the new module list.
// It returns the names that were installed.
func (r *BuildResult) EnsureEssentials(ctx context.Context, installer Installer, force bool) ([]string, error) {
	if installer == nil {
		return nil, errors.New("installer is required")
	}
	if !force && len(r.MissingEssentials()) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(r.Config.Defaults.DiscoveryPath) == "" {
		return nil, errors.New("discovery_path is not configured")
	}
	installed, err := installer.Run(ctx)
	if err != nil {
		return nil, err
	}
	r.Discovered = r.Registry.Refresh()
	if r.Manager != nil {
		r.Manager.NotifyDiscovered(r.Discovered)
	}
	return installed, nil
}
