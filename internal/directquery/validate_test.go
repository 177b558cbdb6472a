package directquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/directquery/internal/handler"
	"github.com/yairfalse/directquery/pkg/datasource"
)

func TestValidateQueryRequest(t *testing.T) {
	valid := handler.QueryRequest{DataSource: "ds1", Query: "up", Language: "promql"}

	tests := []struct {
		name   string
		mutate func(*handler.QueryRequest)
		want   string
	}{
		{"valid", func(*handler.QueryRequest) {}, ""},
		{"missing datasource", func(r *handler.QueryRequest) { r.DataSource = " " }, "Datasource is required"},
		{"missing query", func(r *handler.QueryRequest) { r.Query = "" }, "Query is required"},
		{"missing language", func(r *handler.QueryRequest) { r.Language = "" }, "Language type is required"},
		{"unsupported language", func(r *handler.QueryRequest) { r.Language = "sql" }, "Language type sql is not supported"},
		{"uppercase language", func(r *handler.QueryRequest) { r.Language = "PROMQL" }, ""},
		{"end before start", func(r *handler.QueryRequest) { r.Start, r.End = "20", "10" }, "End time must be after start time"},
		{"end equals start", func(r *handler.QueryRequest) { r.Start, r.End = "10", "10" }, "End time must be after start time"},
		{"end after start", func(r *handler.QueryRequest) { r.Start, r.End = "10", "20" }, ""},
		{"non-numeric times skipped", func(r *handler.QueryRequest) { r.Start, r.End = "now-1h", "now" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := ValidateQueryRequest(req)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, datasource.ErrValidation)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}
