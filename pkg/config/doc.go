// Package config loads block store tuning knobs from an optional YAML file
// via gopkg.in/yaml.v3, with environment-variable overrides applied on top
// of compiled-in defaults.
package config
