// Package handler implements the per-backend host worker. A worker pulls
// accepted client sockets from its dispatch queue, obtains an upstream
// connection from the pool or by dialing, and starts a relay for each pair
// without waiting for it to finish. A failed dial only affects the client
// being handled.
package handler
