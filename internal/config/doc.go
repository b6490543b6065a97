// Package config provides configuration loading and validation for the OSC relay service.
// Values come from built-in defaults, an optional YAML file, an optional .env file and
// OSC_RELAY_* environment variables, with later sources taking precedence.
package config
