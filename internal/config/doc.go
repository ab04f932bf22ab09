// Package config loads deployment documents.
//
// A document maps target names to [Environment] values: the controller VM,
// the bootstrap VM, extra virtual nodes, and the cluster configuration
// applied through the controller once it is up. Defaults are filled in
// after decoding and [Environment.Validate] reports unsupported input as
// *deployerr.ConfigError.
package config
