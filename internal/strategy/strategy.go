package strategy

import (
	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
)

// Strategy picks the backend for the next accepted connection.
type Strategy interface {
	SelectBackend(backends []*backend.Backend) *backend.Backend
	Name() string
}
