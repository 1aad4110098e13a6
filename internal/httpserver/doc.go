// Package httpserver runs the admin HTTP endpoint that exposes metrics and
// breaker state next to the TCP listener.
package httpserver
