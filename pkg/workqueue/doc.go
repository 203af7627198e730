// Package workqueue provides a fixed-size worker pool fed by a FIFO
// queue with condition-variable signaling.
//
// The server's command path is synchronous; the pool exists for work
// that handlers and background tasks choose to offload, such as
// periodic snapshot dumps.
package workqueue
