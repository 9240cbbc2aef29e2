// Package writer materializes response bodies on disk.
//
// It turns URLs into filenames under the configured directory prefix,
// applying the restriction modes, directory strategy, collision suffixes,
// and length cap, then writes bodies with support for anti-clobbering,
// resumed downloads, timestamping, and delete-after.
package writer
