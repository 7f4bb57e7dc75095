// Package config loads castlehub settings from defaults, an optional YAML
// file, CASTLEHUB_* environment variables and command line flags, in
// increasing order of priority. Nested keys map to environment variables
// with dots replaced by underscores: terraform.binary is read from
// CASTLEHUB_TERRAFORM_BINARY.
package config
