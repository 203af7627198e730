// Package replication implements the primary→follower command stream.
//
// The primary runs a dedicated TCP listener speaking a newline-framed
// text control protocol. Followers register with SLAVE_CONNECT, catch
// up through SYNC_REQUEST against the primary's bounded backlog, then
// receive every accepted mutation in offset order and acknowledge each
// one. Replication is asynchronous: the primary never blocks a local
// mutation on follower acknowledgment.
package replication
