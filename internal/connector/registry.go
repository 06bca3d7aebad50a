package connector

import (
	"github.com/samber/lo"
)

// Factory builds one connector
type Factory func() Connector

// Registry holds connectors in a fixed order: ids from the priority list
// first, in that order, then the rest in factory order.
type Registry struct {
	connectors []Connector
}

func NewRegistry(factories []Factory, priority []string) *Registry {
	all := lo.Map(factories, func(f Factory, _ int) Connector { return f() })
	priority = lo.Uniq(priority)

	prioritized := lo.FilterMap(priority, func(id string, _ int) (Connector, bool) {
		return lo.Find(all, func(c Connector) bool { return c.Info().ID == id })
	})
	rest := lo.Reject(all, func(c Connector, _ int) bool {
		return lo.Contains(priority, c.Info().ID)
	})

	return &Registry{connectors: append(prioritized, rest...)}
}

// Connectors returns the connectors in registry order
func (r *Registry) Connectors() []Connector {
	return append([]Connector(nil), r.connectors...)
}

// Get returns the connector with id
func (r *Registry) Get(id string) (Connector, bool) {
	return lo.Find(r.connectors, func(c Connector) bool { return c.Info().ID == id })
}

// ActiveConnector returns the first connector, in registry order, that has
// an account. Ties go to registry order, not to the most recent connection.
func (r *Registry) ActiveConnector() Connector {
	c, ok := lo.Find(r.connectors, func(c Connector) bool { return c.Account() != nil })
	if !ok {
		return nil
	}
	return c
}

// Busy reports whether any connector is connected or mid-connection
func (r *Registry) Busy() bool {
	return lo.SomeBy(r.connectors, func(c Connector) bool {
		switch c.Status().State {
		case StateConnecting, StateDeploying, StateConnected:
			return true
		default:
			return false
		}
	})
}
