package handler

import (
	"fmt"

	"github.com/yairfalse/directquery/pkg/datasource"
)

// Registry holds handlers in registration order. It is immutable after
// NewRegistry and safe for concurrent use.
//
// At most one handler may be registered per connector type. Resolve returns
// the first handler whose CanHandle accepts the client, so registration order
// breaks ties between overlapping predicates.
type Registry struct {
	handlers []Handler
}

// NewRegistry fails when two handlers declare the same connector type.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	seen := make(map[datasource.ConnectorType]bool, len(handlers))
	for _, h := range handlers {
		ct := h.ConnectorType()
		if seen[ct] {
			return nil, fmt.Errorf("handler for connector type %s registered twice", ct)
		}
		seen[ct] = true
	}
	return &Registry{handlers: append([]Handler(nil), handlers...)}, nil
}

// Resolve returns the first handler able to serve client.
func (r *Registry) Resolve(client datasource.Client) (Handler, bool) {
	if client == nil {
		return nil, false
	}
	for _, h := range r.handlers {
		if h.CanHandle(client) {
			return h, true
		}
	}
	return nil, false
}

// ConnectorTypes lists registered connector types in order.
func (r *Registry) ConnectorTypes() []datasource.ConnectorType {
	types := make([]datasource.ConnectorType, 0, len(r.handlers))
	for _, h := range r.handlers {
		types = append(types, h.ConnectorType())
	}
	return types
}
