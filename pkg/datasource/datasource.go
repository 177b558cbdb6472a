// Package datasource holds the data source model shared by the direct query
// packages: metadata, connector types and the error taxonomy.
package datasource

import (
	"context"
	"strings"
)

// ConnectorType tags the wire protocol a data source speaks.
type ConnectorType string

const (
	// Prometheus is a Prometheus-compatible HTTP API (Prometheus, AMP, Thanos, Mimir).
	Prometheus ConnectorType = "PROMETHEUS"
)

// ParseConnectorType normalizes a connector name ("prometheus" -> PROMETHEUS).
// Unknown names are kept as-is so the factory can report them.
func ParseConnectorType(s string) ConnectorType {
	return ConnectorType(strings.ToUpper(strings.TrimSpace(s)))
}

// String returns the connector tag.
func (c ConnectorType) String() string {
	return string(c)
}

// Metadata describes one configured data source. The core only reads it.
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Connector   ConnectorType     `json:"connector" yaml:"connector"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Property returns a trimmed property value. Blank values count as absent.
func (m Metadata) Property(key string) (string, bool) {
	v, ok := m.Properties[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Service resolves data source names to metadata.
type Service interface {
	// Get returns the metadata for name, or an error matching ErrNotFound.
	Get(ctx context.Context, name string) (Metadata, error)
}

// Client is a protocol client bound to a single data source.
type Client interface {
	// DataSource returns the name of the data source the client was built for.
	DataSource() string

	// ConnectorType returns the protocol tag handlers dispatch on.
	ConnectorType() ConnectorType
}
