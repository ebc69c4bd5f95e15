// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is the usual way to inject the bearer token (api.token: ${CHAT_TOKEN}).
package config
