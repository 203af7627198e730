// Package confloader loads server configuration from layered sources.
//
// It uses koanf with priority Flag > Env > File > Default, and can
// watch the configuration file for runtime changes (log level).
package confloader
