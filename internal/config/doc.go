// Package config holds the crawl configuration.
//
// A Config is populated from CLI flags, validated once before the engine
// starts, and passed to components by dependency injection. Per-site
// overrides come from an optional YAML .webgrabrc file.
package config
