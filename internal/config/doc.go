// Package config provides configuration loading and validation for the transcription service.
// It reads a YAML file, fills in defaults, lets secrets such as the engine API key and
// the Sentry DSN come from the environment, and validates every section before use.
package config
