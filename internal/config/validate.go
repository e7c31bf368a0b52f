package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks ports, module names and restart settings.
func (c UserConfig) Validate() error {
	var errs []error
	if err := validatePort("defaults.port", c.Defaults.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("defaults.control_port", c.Defaults.ControlPort); err != nil {
		errs = append(errs, err)
	}
	if c.Defaults.Port == c.Defaults.ControlPort && c.Defaults.Port != 0 {
		errs = append(errs, fmt.Errorf("defaults.control_port must differ from defaults.port (%d)", c.Defaults.Port))
	}
	if c.Defaults.RestartDelay.Duration < 0 {
		errs = append(errs, fmt.Errorf("defaults.restart_delay must not be negative"))
	}
	if c.Defaults.MaxCrashes < 0 {
		errs = append(errs, fmt.Errorf("defaults.max_crashes must not be negative"))
	}
	if name := strings.TrimSpace(c.Defaults.ServerModule); name != "" {
		if err := ValidateModuleName(name); err != nil {
			errs = append(errs, fmt.Errorf("defaults.server_module: %w", err))
		}
	}

	seen := make(map[string]struct{}, len(c.AutostartModules))
	for index, module := range c.AutostartModules {
		if err := ValidateModuleName(module.Name); err != nil {
			errs = append(errs, fmt.Errorf("autostart_modules[%d]: %w", index, err))
			continue
		}
		if _, dup := seen[module.Name]; dup {
			errs = append(errs, fmt.Errorf("autostart_modules[%d]: duplicate module %q", index, module.Name))
			continue
		}
		seen[module.Name] = struct{}{}
		if _, err := SplitArgs(module.Args); err != nil {
			errs = append(errs, fmt.Errorf("autostart_modules[%d] args: %w", index, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateModuleName rejects names that could not be a bare executable name.
func ValidateModuleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("module name is required")
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("module name %q has surrounding whitespace", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("module name %q must not contain path separators", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("module name %q is not valid", name)
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}
