// Package strategy defines the backend selection interface used by the
// accept loop and its round-robin implementation, which cycles through the
// backend list in file order.
package strategy
