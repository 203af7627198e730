// Package main provides leapcache-cli, a small RESP client for
// issuing commands against a leapcache-server instance.
package main
