// Package handler dispatches direct queries and resource lookups to the
// handler serving a client's protocol.
package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yairfalse/directquery/pkg/datasource"
)

// Handler serves queries for one connector type.
type Handler interface {
	// ConnectorType is the tag the handler is registered under.
	ConnectorType() datasource.ConnectorType

	// CanHandle reports whether client speaks this handler's protocol.
	CanHandle(client datasource.Client) bool

	// ExecuteQuery returns the backend data, or a {"error": ...} payload for
	// requests that fail validation. Backend failures are returned as errors.
	ExecuteQuery(ctx context.Context, client datasource.Client, req QueryRequest) (json.RawMessage, error)

	// GetResources returns the requested resource listing.
	GetResources(ctx context.Context, client datasource.Client, req ResourceRequest) (any, error)
}

// QueryMode selects instant or range evaluation.
type QueryMode string

const (
	ModeUnknown QueryMode = ""
	ModeInstant QueryMode = "instant"
	ModeRange   QueryMode = "range"
)

// ParseQueryMode is case-insensitive. Anything else is ModeUnknown.
func ParseQueryMode(s string) QueryMode {
	switch QueryMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeInstant:
		return ModeInstant
	case ModeRange:
		return ModeRange
	default:
		return ModeUnknown
	}
}

// QueryRequest is one passthrough query. Times are unix seconds as strings,
// exactly as the caller sent them.
type QueryRequest struct {
	DataSource    string
	Query         string
	Language      string
	Mode          QueryMode
	Start         string
	End           string
	Step          string
	Time          string
	MaxResults    int
	TimeoutMillis int
	SessionID     string
}

// ResourceType names a resource listing.
type ResourceType string

const (
	ResourceLabels      ResourceType = "labels"
	ResourceLabelValues ResourceType = "label_values"
	ResourceMetadata    ResourceType = "metadata"
	ResourceSeries      ResourceType = "series"

	ResourceAlertmanagerAlerts      ResourceType = "alertmanager_alerts"
	ResourceAlertmanagerAlertGroups ResourceType = "alertmanager_alert_groups"
	ResourceAlertmanagerReceivers   ResourceType = "alertmanager_receivers"
	ResourceAlertmanagerSilences    ResourceType = "alertmanager_silences"
)

// ParseResourceType is case-insensitive. Unknown values are returned as
// given so handlers can name them in errors.
func ParseResourceType(s string) ResourceType {
	return ResourceType(strings.ToLower(strings.TrimSpace(s)))
}

// ResourceRequest asks for a resource listing. Name is the label for
// label_values; QueryParams pass through to the backend.
type ResourceRequest struct {
	DataSource  string
	Type        ResourceType
	Name        string
	QueryParams map[string]string
}

// ErrorPayload renders the structured error result returned in place of data.
func ErrorPayload(message string) json.RawMessage {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	return b
}
