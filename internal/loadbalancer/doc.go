// Package loadbalancer implements the accept loop: every accepted client
// socket is assigned a backend by the strategy and queued on that
// backend's host worker.
package loadbalancer
