// Package framework loads the framework-properties document a
// bundlectx.Framework is started with: a flat key/value map plus typed
// accessors, grounded on internal/config's defaults-then-override loader
// (spec.md never names a config format, only "framework properties";
// config-admin-style persisted, versioned config is an explicit
// collaborator kept out of the core).
package framework

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a flat framework-properties document: string-keyed, loaded
// from YAML, with defaults filled in before any file is read.
type Config struct {
	Properties map[string]string `yaml:"properties"`
}

// Default returns the baseline framework properties every Framework
// starts from before a config file's values are layered on top.
func Default() Config {
	return Config{Properties: map[string]string{
		"framework.uuid.persist": "false",
		"log.level":              "info",
	}}
}

// Load reads path as a YAML Config document, starting from Default() so a
// missing or partial file only overrides what it names (mirrors
// internal/config.LoadConfig's "start with default config" step). A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("framework: reading config %q: %w", path, err)
	}
	var overrides Config
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Config{}, fmt.Errorf("framework: parsing config %q: %w", path, err)
	}
	for k, v := range overrides.Properties {
		cfg.Properties[k] = v
	}
	return cfg, nil
}

// AsFrameworkProperties converts the string-keyed document into the
// map[string]interface{} bundlectx.New expects, the point where
// this config layer hands off to the core.
func (c Config) AsFrameworkProperties() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Properties))
	for k, v := range c.Properties {
		out[k] = v
	}
	return out
}

// String returns the named property, or def if it is unset.
func (c Config) String(key, def string) string {
	if v, ok := c.Properties[key]; ok {
		return v
	}
	return def
}

// Int parses the named property as an integer, returning def if it is
// unset or unparsable.
func (c Config) Int(key string, def int) int {
	v, ok := c.Properties[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool parses the named property as a boolean, returning def if it is
// unset or unparsable.
func (c Config) Bool(key string, def bool) bool {
	v, ok := c.Properties[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration parses the named property with time.ParseDuration, returning
// def if it is unset or unparsable.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	v, ok := c.Properties[key]
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
