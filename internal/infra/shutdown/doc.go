// Package shutdown provides graceful shutdown handling: hooks are
// registered during startup and executed in reverse order when a
// termination signal arrives.
package shutdown
