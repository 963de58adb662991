// Package config provides configuration loading and validation for the speech proxy.
// It reads a YAML file over built-in defaults, overlays vendor secrets from the
// environment (optionally seeded from a .env file) and validates each section.
package config
