// Package respserver provides the RESP protocol front end for LeapCache.
//
// It contains the streaming RESP parser and serializer, the command
// table and dispatcher, and the TCP server with its accept loop and
// per-connection handlers.
package respserver
