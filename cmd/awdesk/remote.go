package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"awdesk/internal/client"
	"awdesk/internal/config"
	"awdesk/internal/modules"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type remoteStatus struct {
	Instance client.Status    `json:"instance" yaml:"instance"`
	Modules  []modules.Status `json:"modules" yaml:"modules"`
}

func (c *cli) statusCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running instance and its modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, "table", "json", "yaml"); err != nil {
				return err
			}
			baseURL, err := c.controlURL(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			instance, err := client.FetchStatus(ctx, c.httpClient, baseURL)
			if err != nil {
				return notRunning(err)
			}
			list, err := client.FetchModules(ctx, c.httpClient, baseURL)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), format, remoteStatus{Instance: instance, Modules: list})
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json or yaml")
	return cmd
}

func (c *cli) moduleActionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <module>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if err := config.ValidateModuleName(name); err != nil {
				return err
			}
			baseURL, err := c.controlURL(cmd)
			if err != nil {
				return err
			}
			call := client.StartModule
			if action == "stop" {
				call = client.StopModule
			}
			status, err := call(commandContext(cmd), c.httpClient, baseURL, name)
			if err != nil {
				var httpErr *client.HTTPError
				if errors.As(err, &httpErr) {
					return err
				}
				return notRunning(err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", status.Name, status.State)
			return err
		},
	}
}

// controlURL finds the control API of a running instance without creating a
// config file as a side effect.
func (c *cli) controlURL(cmd *cobra.Command) (string, error) {
	options, err := c.resolveOptions(cmd)
	if err != nil {
		return "", err
	}
	if options.ControlPort != 0 {
		return client.BaseURL(options.ControlPort), nil
	}
	path := strings.TrimSpace(options.ConfigPath)
	if path == "" {
		if path, err = c.env.ConfigPath(); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return client.BaseURL(config.DefaultControlPort), nil
		}
		return "", err
	}
	loaded, err := config.Load(path, config.Default(c.env.DefaultDiscoveryPath()))
	if err != nil {
		return "", err
	}
	return client.BaseURL(loaded.Config.Defaults.ControlPort), nil
}

func notRunning(err error) error {
	return fmt.Errorf("awdesk does not appear to be running: %w", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeStatus(out io.Writer, format string, status remoteStatus) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(status)
	}
	uptime := time.Duration(status.Instance.Uptime * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(out, "%s %s up %s, dashboard %s\n",
		status.Instance.App, status.Instance.Version, uptime, status.Instance.DashboardURL)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "MODULE\tSTATE\tPID\tRESTARTS\tAUTOSTART")
	for _, module := range status.Modules {
		pid := "-"
		if module.PID > 0 {
			pid = fmt.Sprint(module.PID)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n", module.Name, module.State, pid, module.Restarts, yesNo(module.Autostart))
	}
	return writer.Flush()
}
