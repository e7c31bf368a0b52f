package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"awdesk/internal/app"
	"awdesk/internal/client"
	"awdesk/internal/config"
	"awdesk/internal/logging"
	"awdesk/internal/modules"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type moduleRow struct {
	Name      string `json:"name" yaml:"name"`
	Path      string `json:"path" yaml:"path"`
	Autostart bool   `json:"autostart" yaml:"autostart"`
	Essential bool   `json:"essential" yaml:"essential"`
}

func (c *cli) modulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Inspect and install watcher modules",
	}

	var format string
	var force bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List discovered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, "table", "json", "yaml"); err != nil {
				return err
			}
			options, err := c.resolveOptions(cmd)
			if err != nil {
				return err
			}
			rows, err := c.listModules(options)
			if err != nil {
				return err
			}
			return writeModuleRows(cmd.OutOrStdout(), format, rows)
		},
	}
	list.Flags().StringVar(&format, "format", "table", "Output format: table, json or yaml")

	download := &cobra.Command{
		Use:   "download",
		Short: "Download the essential modules into the discovery path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := c.resolveOptions(cmd)
			if err != nil {
				return err
			}
			return c.downloadModules(cmd.Context(), cmd.OutOrStdout(), options, force)
		},
	}
	download.Flags().BoolVar(&force, "force", false, "Download even when every essential module is present")

	cmd.AddCommand(list, download)
	return cmd
}

func (c *cli) listModules(options config.Options) ([]moduleRow, error) {
	loaded, _, err := app.LoadConfig(c.env, options)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config
	registry := app.NewRegistry(c.env, cfg, c.getenv("PATH"))
	names := registry.Refresh()

	autostart := make(map[string]bool)
	for _, module := range app.AutostartModules(cfg) {
		autostart[module.Name] = true
	}
	essential := make(map[string]bool)
	for _, name := range modules.EssentialModules(modules.IsWayland(c.getenv)) {
		essential[name] = true
	}

	rows := make([]moduleRow, 0, len(names))
	for _, name := range names {
		path, _ := registry.Resolve(name)
		rows = append(rows, moduleRow{
			Name:      name,
			Path:      path,
			Autostart: autostart[name],
			Essential: essential[name],
		})
	}
	return rows, nil
}

func writeModuleRows(out io.Writer, format string, rows []moduleRow) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "no modules found")
		return err
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tAUTOSTART\tESSENTIAL\tPATH")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", row.Name, yesNo(row.Autostart), yesNo(row.Essential), row.Path)
	}
	return writer.Flush()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func (c *cli) downloadModules(ctx context.Context, out io.Writer, options config.Options, force bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loaded, path, err := app.LoadConfig(c.env, options)
	if err != nil {
		return err
	}
	cfg := loaded.Config
	registry := app.NewRegistry(c.env, cfg, c.getenv("PATH"))
	result := &app.BuildResult{
		Config:     cfg,
		ConfigPath: path,
		Wayland:    modules.IsWayland(c.getenv),
		Discovered: registry.Refresh(),
		Registry:   registry,
	}
	if missing := result.MissingEssentials(); len(missing) == 0 && !force {
		_, err := fmt.Fprintln(out, "all essential modules are present")
		return err
	}

	logger := logging.NewLoggerWithOutput(nil, logLevel(options), c.stderr)
	downloader := app.NewDownloader(cfg, c.env.GOOS, result.Wayland, logger)
	downloader.Client = c.downloadClient
	installed, err := result.EnsureEssentials(ctx, downloader, force)
	if err != nil {
		return err
	}
	for _, file := range installed {
		fmt.Fprintf(out, "installed %s\n", file)
	}

	// Let a running instance pick the new binaries up without waiting for
	// the discovery watcher.
	baseURL := client.BaseURL(cfg.Defaults.ControlPort)
	if client.IsInstance(ctx, c.httpClient, baseURL) {
		if _, err := client.RefreshModules(ctx, c.httpClient, baseURL); err != nil {
			logger.Warn("refresh running instance failed", map[string]string{logging.FieldError: err.Error()})
		}
	}
	return nil
}
