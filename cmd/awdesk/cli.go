package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"awdesk/internal/client"
	"awdesk/internal/config"
	"awdesk/internal/dirs"
	"awdesk/internal/instance"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const anotherInstanceMessage = "Another instance is running, quitting!"

// cli carries the process environment through every command.
type cli struct {
	env            dirs.Env
	getenv         func(string) string
	stdout         io.Writer
	stderr         io.Writer
	httpClient     *http.Client
	downloadClient *http.Client

	flags config.Flags
}

func newCLI(env dirs.Env, getenv func(string) string, stdout, stderr io.Writer) *cli {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &cli{
		env:        env,
		getenv:     getenv,
		stdout:     stdout,
		stderr:     stderr,
		httpClient: client.NewHTTPClient(),
	}
}

func execute(args []string) int {
	return newCLI(dirs.System(), os.Getenv, os.Stdout, os.Stderr).execute(args)
}

func (c *cli) execute(args []string) int {
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	if err := root.Execute(); err != nil {
		if errors.Is(err, instance.ErrAnotherInstance) {
			fmt.Fprintln(c.stdout, anotherInstanceMessage)
			return 0
		}
		fmt.Fprintln(c.stderr, "Error:", err)
		return 1
	}
	return 0
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "awdesk",
		Short: "Desktop companion for ActivityWatch",
		Long: `awdesk discovers ActivityWatch watchers, keeps the configured ones
running, and exposes their state through a tray menu and a local control API.

Run without a subcommand to start the application.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCommand(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.flags.ConfigPath, "config", "", "Path to config.toml")
	flags.IntVar(&c.flags.Port, "port", 0, "Tracking server port passed to modules")
	flags.IntVar(&c.flags.ControlPort, "control-port", 0, "Control API port")
	flags.BoolVarP(&c.flags.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVarP(&c.flags.Quiet, "quiet", "q", false, "Only log warnings and errors")

	run := &cobra.Command{
		Use:   "run",
		Short: "Start the application (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCommand(cmd)
		},
	}
	for _, cmd := range []*cobra.Command{root, run} {
		cmd.Flags().BoolVar(&c.flags.NoModules, "no-modules", false, "Do not start autostart modules")
		cmd.Flags().BoolVar(&c.flags.Headless, "headless", false, "Run without a tray icon")
		cmd.Flags().StringVar(&c.flags.WebUIDir, "webui-dir", "", "Directory holding the web UI assets")
	}

	root.AddCommand(
		run,
		c.modulesCommand(),
		c.statusCommand(),
		c.moduleActionCommand("start", "Start a module in the running instance"),
		c.moduleActionCommand("stop", "Stop a module in the running instance"),
		c.configCommand(),
		c.versionCommand(),
	)
	return root
}

// resolveOptions layers env and explicitly set flags over defaults.
func (c *cli) resolveOptions(cmd *cobra.Command) (config.Options, error) {
	c.flags.Set = make(map[string]bool)
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		c.flags.Set[flag.Name] = true
	})
	return config.Resolve(c.flags, c.getenv)
}

func validateFormat(format string, allowed ...string) error {
	for _, candidate := range allowed {
		if format == candidate {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q (want %s)", format, strings.Join(allowed, ", "))
}
