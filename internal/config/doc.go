// Package config loads and validates application configuration from an
// optional YAML file and CLEFNOTE_-prefixed environment variables, giving the
// rest of the application typed access to server, database, Redis and queue
// settings.
package config
