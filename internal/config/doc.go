// Package config loads, validates, and defaults the TOML configuration for
// the relato daemon and CLI.
package config
