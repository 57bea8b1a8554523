// Package config merges built-in defaults and QDNS_-prefixed environment
// variables into a validated AppConfig, covering the ambient concerns left
// to the entry point: log level/format and the once-set's LRU capacity. The
// single-letter flag surface is parsed separately by cmd/quantum-dnsd and
// is not part of AppConfig.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds the ambient configuration values not carried by CLI flags.
type AppConfig struct {
	// Env is the runtime environment, "dev" or "prod"; controls log format.
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity.
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// OnceSetSize bounds the once-per-source suppression LRU.
	OnceSetSize int `koanf:"once_set_size" validate:"required,gte=1"`
}

// Default is the built-in configuration before environment overrides.
var Default = AppConfig{
	Env:         "prod",
	LogLevel:    "info",
	OnceSetSize: 1000,
}

// envLoader loads QDNS_-prefixed environment variables, lower-casing keys
// and stripping the prefix.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "QDNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "QDNS_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(Default, "koanf"), nil)
}

// Load merges Default with QDNS_-prefixed environment variables and
// validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}
