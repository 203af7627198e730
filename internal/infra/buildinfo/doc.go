// Package buildinfo exposes build-time version information injected
// via ldflags.
package buildinfo
