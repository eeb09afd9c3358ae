// Package config is the shared configuration loader for all three binaries,
// modeled on the teacher's pkg/config.Load: viper resolves environment
// variables over a YAML file over defaults, mapstructure decodes into a
// typed struct, and go-playground/validator enforces invariants before the
// service is allowed to start.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads configuration for one service instance into out (a pointer to
// a struct with `mapstructure` tags), applying defaults first, then the
// optional YAML file at path, then environment variables prefixed with
// envPrefix (e.g. "FILE", giving FILE_PORT). Dotted keys become underscore-separated env
// vars, matching spec.md §6's per-instance prefixes (".HOST", ".PORT", ...).
func Load(out any, envPrefix string, path string, defaults map[string]any) error {
	v := viper.New()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	if err := v.Unmarshal(out, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}
