package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Source string

const (
	SourceDefault Source = "default"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
	SourceFile    Source = "file"
)

// Options are the process-level settings layered from flags, env and defaults.
// Zero ports mean "use config.toml".
type Options struct {
	ConfigPath  string
	Port        int
	ControlPort int
	Verbose     bool
	Trace       bool
	Quiet       bool
	NoModules   bool
	Headless    bool
	WebUIDir    string
	Sources     map[string]Source
}

// Flags holds raw flag values; Set records which flags were given explicitly.
type Flags struct {
	ConfigPath  string
	Port        int
	ControlPort int
	Verbose     bool
	Quiet       bool
	NoModules   bool
	Headless    bool
	WebUIDir    string
	Set         map[string]bool
}

// Resolve applies env then flag precedence on top of defaults.
func Resolve(flags Flags, getenv func(string) string) (Options, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	opts := Options{Sources: make(map[string]Source)}

	opts.ConfigPath, opts.Sources["config"] = stringOption(flags.Set["config"], flags.ConfigPath, getenv("AW_DESK_CONFIG"))

	port, source, err := portOption("port", flags.Set["port"], flags.Port, getenv("AW_DESK_PORT"))
	if err != nil {
		return Options{}, err
	}
	opts.Port, opts.Sources["port"] = port, source

	controlPort, source, err := portOption("control-port", flags.Set["control-port"], flags.ControlPort, getenv("AW_DESK_CONTROL_PORT"))
	if err != nil {
		return Options{}, err
	}
	opts.ControlPort, opts.Sources["control-port"] = controlPort, source

	webUIDir, webUISource := stringOption(flags.Set["webui-dir"], flags.WebUIDir, getenv("AW_WEBUI_DIR"))
	if webUIDir != "" {
		info, err := os.Stat(webUIDir)
		if err != nil || !info.IsDir() {
			return Options{}, fmt.Errorf("webui dir %q does not exist", webUIDir)
		}
	}
	opts.WebUIDir, opts.Sources["webui-dir"] = webUIDir, webUISource

	opts.Trace = getenv("AW_TRACE") != ""
	opts.Verbose = flags.Verbose || opts.Trace || getenv("AW_DEBUG") != ""
	switch {
	case flags.Set["verbose"]:
		opts.Sources["verbose"] = SourceFlag
	case opts.Verbose:
		opts.Sources["verbose"] = SourceEnv
	default:
		opts.Sources["verbose"] = SourceDefault
	}
	if flags.Verbose && flags.Quiet {
		return Options{}, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	opts.Quiet = flags.Quiet && !opts.Verbose
	opts.NoModules = flags.NoModules
	opts.Headless = flags.Headless
	return opts, nil
}

// Apply overlays explicit port options on the file config.
func (o Options) Apply(cfg UserConfig) UserConfig {
	if o.Port > 0 {
		cfg.Defaults.Port = o.Port
	}
	if o.ControlPort > 0 {
		cfg.Defaults.ControlPort = o.ControlPort
	}
	return cfg
}

func stringOption(flagSet bool, flagValue, envValue string) (string, Source) {
	if flagSet {
		return strings.TrimSpace(flagValue), SourceFlag
	}
	if trimmed := strings.TrimSpace(envValue); trimmed != "" {
		return trimmed, SourceEnv
	}
	return "", SourceDefault
}

func portOption(name string, flagSet bool, flagValue int, envValue string) (int, Source, error) {
	if flagSet {
		if flagValue <= 0 || flagValue > 65535 {
			return 0, "", fmt.Errorf("invalid --%s: must be between 1 and 65535", name)
		}
		return flagValue, SourceFlag, nil
	}
	if raw := strings.TrimSpace(envValue); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 65535 {
			return parsed, SourceEnv, nil
		}
	}
	return 0, SourceFile, nil
}
