// Package config loads the load balancer configuration. Values come from
// built-in defaults, an optional config.yaml, environment variables such as
// SERVER_PORT and the -p, -h and -w command-line flags, each layer
// overriding the one before. The result is validated before it is returned.
package config
