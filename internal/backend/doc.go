// Package backend models the upstream servers a load balancer forwards
// connections to and loads the ordered backend list from disk.
package backend
