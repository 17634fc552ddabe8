// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ConfigEnv is the environment variable with the registry options, see ParseConfig for the format.
const ConfigEnv = "FILTERGRAD_CONFIG"

// Config of a Registry.
type Config struct {
	// VendorReproducible restricts the vendor-backed algorithm to deterministic sub-algorithms.
	VendorReproducible bool

	// MaxParallelism is the number of goroutines the matmul fallback may use.
	// 0 disables parallelism, negative values mean unlimited.
	MaxParallelism int
}

// DefaultConfig returns the default configuration: reproducible vendor algorithm, and parallelism
// equal to the number of CPUs.
func DefaultConfig() Config {
	return Config{
		VendorReproducible: true,
		MaxParallelism:     runtime.NumCPU(),
	}
}

// ParseConfig parses a comma-separated list of options on top of DefaultConfig.
//
// Options:
//   - "reproducible" or "reproducible=<bool>": see Config.VendorReproducible.
//   - "parallelism=<int>": see Config.MaxParallelism.
//
// Example: "reproducible=false,parallelism=4".
func ParseConfig(config string) (Config, error) {
	cfg := DefaultConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "reproducible":
			if !hasValue {
				cfg.VendorReproducible = true
				continue
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid value for option %q in config %q", key, config)
			}
			cfg.VendorReproducible = b
		case "parallelism":
			if !hasValue {
				return cfg, errors.Errorf("option %q requires a value in config %q", key, config)
			}
			p, err := strconv.Atoi(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid value for option %q in config %q", key, config)
			}
			cfg.MaxParallelism = p
		default:
			return cfg, errors.Errorf("unknown option %q in config %q", key, config)
		}
	}
	return cfg, nil
}

// ConfigFromEnv parses the options in the environment variable ConfigEnv, or returns DefaultConfig if not set.
func ConfigFromEnv() (Config, error) {
	config, found := os.LookupEnv(ConfigEnv)
	if !found {
		return DefaultConfig(), nil
	}
	return ParseConfig(config)
}
