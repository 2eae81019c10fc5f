// Package config loads the botemulator YAML configuration with environment
// variable expansion and duration parsing.
package config
