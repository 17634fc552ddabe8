// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends keeps the registry of external compute libraries that can back the vendor algorithm of
// the convolution backward-filter registry (see package convbwdfilter).
//
// Libraries register a Constructor under a name, usually in the init() of their package, and users select
// one with a configuration string "<library_name>:<library_configuration>", either explicitly
// (NewWithConfig) or through the environment variable FILTERGRAD_LIBRARY (New).
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor takes a config string (optionally empty) and returns a Library.
type Constructor func(config string) (convbwdfilter.Library, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register library with the given name, and a constructor that takes as input a configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if name == "" || strings.Contains(name, ":") {
		exceptions.Panicf("backends.Register: invalid library name %q", name)
	}
	if constructor == nil {
		exceptions.Panicf("backends.Register(%q): nil constructor", name)
	}
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered libraries, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the library configuration used by New if FILTERGRAD_LIBRARY is not set.
var DefaultConfig string

// FILTERGRAD_LIBRARY is the environment variable with the default library configuration to use.
//
// The format of config is "<library_name>:<library_configuration>".
const FILTERGRAD_LIBRARY = "FILTERGRAD_LIBRARY"

// New returns a new default Library.
//
// The default is:
//
// 1. The environment FILTERGRAD_LIBRARY is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered library is used with an empty configuration.
func New() (convbwdfilter.Library, error) {
	if config, found := os.LookupEnv(FILTERGRAD_LIBRARY); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig creates a library from a configuration string formatted as
// "<library_name>:<library_configuration>". If the name is empty, the first registered library is used.
func NewWithConfig(config string) (convbwdfilter.Library, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered compute library -- maybe import the pure Go one with ` +
			`import _ "github.com/gomlx/filtergrad/backends/software"?`)
	}
	libraryName, libraryConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		libraryName, libraryConfig = config[:idx], config[idx+1:]
	}
	if libraryName == "" {
		libraryName = firstRegistered
	}
	constructor, found := registeredConstructors[libraryName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find library %q for configuration %q given, registered libraries: %q",
			libraryName, config, List())
	}
	lib, err := constructor(libraryConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create library %q with configuration %q", libraryName, libraryConfig)
	}
	klog.V(1).Infof("created compute library %q (config %q)", lib.Name(), libraryConfig)
	return lib, nil
}

// NewRegistry creates a convbwdfilter.Registry backed by the library configured with libraryConfig (see
// NewWithConfig), and with registry options in registryConfig (see convbwdfilter.ParseConfig).
func NewRegistry(libraryConfig, registryConfig string) (*convbwdfilter.Registry, error) {
	cfg, err := convbwdfilter.ParseConfig(registryConfig)
	if err != nil {
		return nil, err
	}
	lib, err := NewWithConfig(libraryConfig)
	if err != nil {
		return nil, err
	}
	return convbwdfilter.NewRegistry(lib, cfg), nil
}

// NewDefaultRegistry creates a convbwdfilter.Registry from the environment: the library from
// FILTERGRAD_LIBRARY (see New) and the options from convbwdfilter.ConfigEnv.
func NewDefaultRegistry() (*convbwdfilter.Registry, error) {
	cfg, err := convbwdfilter.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	lib, err := New()
	if err != nil {
		return nil, err
	}
	return convbwdfilter.NewRegistry(lib, cfg), nil
}
