package registry

import (
	"github.com/mini-rpc/coreband/capacity"
	"github.com/mini-rpc/coreband/errhandler"
	"github.com/mini-rpc/coreband/loadbalance"
)

// NewBalancer seeds a loadbalance.Balancer[Backend] from a discovered
// fleet, using each Backend's own capacity hint rather than one shared
// Config — a live fleet rarely has uniform per-backend limits.
func NewBalancer(backends []Backend, errPolicy errhandler.Config) *loadbalance.Balancer[Backend] {
	return loadbalance.NewWithCapacity(backends, func(b Backend) capacity.Config {
		return capacity.Config{Tokens: b.Tokens, RefillPerSecond: b.RefillPerSecond, Burst: b.Burst}
	}, func() errhandler.Handler {
		return errhandler.New(errPolicy)
	})
}
