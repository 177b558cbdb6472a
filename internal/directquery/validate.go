package directquery

import (
	"strconv"
	"strings"

	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/pkg/datasource"
)

// LanguagePromQL is the query language of PROMETHEUS data sources.
const LanguagePromQL = "promql"

// ValidateQueryRequest checks the fields every direct query needs. Mode
// specific fields are left to the handler, which reports them as payloads.
func ValidateQueryRequest(req handler.QueryRequest) error {
	if strings.TrimSpace(req.DataSource) == "" {
		return datasource.Validation("Datasource is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return datasource.Validation("Query is required")
	}

	lang := strings.ToLower(strings.TrimSpace(req.Language))
	switch lang {
	case "":
		return datasource.Validation("Language type is required")
	case LanguagePromQL:
	default:
		return datasource.Validation("Language type %s is not supported", req.Language)
	}

	if req.Start != "" && req.End != "" {
		start, errStart := strconv.ParseInt(req.Start, 10, 64)
		end, errEnd := strconv.ParseInt(req.End, 10, 64)
		// Non-numeric times are reported by the handler.
		if errStart == nil && errEnd == nil && end <= start {
			return datasource.Validation("End time must be after start time")
		}
	}
	return nil
}
