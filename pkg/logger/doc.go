// Package logger provides the two logging outputs of the load balancer:
// the structured operator logger built on log/slog, and Sink, the
// append-only relay log that receives one line per handled connection.
package logger
