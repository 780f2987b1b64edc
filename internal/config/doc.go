// Package config provides the configuration for onionfetch: where state and
// downloads live, how the Tor session is built, transfer limits, and the
// local API address. Values come from defaults, an optional YAML file, and
// command-line flags, in increasing order of precedence.
package config
