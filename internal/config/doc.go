// Package config loads and validates the adventure-gateway YAML
// configuration, expanding ${ENV_VAR} references and parsing duration
// strings into time.Duration values.
package config
