package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"awdesk/internal/app"
	"awdesk/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect config.toml",
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := c.resolveOptions(cmd)
			if err != nil {
				return err
			}
			resolved := options.ConfigPath
			if resolved == "" {
				if resolved, err = c.env.ConfigPath(); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resolved)
			return err
		},
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration, creating the default file if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, "toml", "json", "yaml"); err != nil {
				return err
			}
			options, err := c.resolveOptions(cmd)
			if err != nil {
				return err
			}
			loaded, _, err := app.LoadConfig(c.env, options)
			if err != nil {
				return err
			}
			for _, key := range loaded.UnknownKeys {
				fmt.Fprintf(c.stderr, "warning: unknown config key %s\n", key)
			}
			return writeConfig(cmd.OutOrStdout(), format, loaded.Config)
		},
	}
	show.Flags().StringVar(&format, "format", "toml", "Output format: toml, json or yaml")

	cmd.AddCommand(path, show)
	return cmd
}

func writeConfig(out io.Writer, format string, cfg config.UserConfig) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(cfg)
	}
	var buffer bytes.Buffer
	if err := config.Encode(&buffer, cfg); err != nil {
		return err
	}
	_, err := out.Write(buffer.Bytes())
	return err
}
