// Package config loads and validates the service configuration from a
// YAML file.
package config
