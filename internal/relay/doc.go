// Package relay implements the bidirectional byte copy between a client
// socket and an upstream socket, and the log record written when a relay
// finishes.
package relay
