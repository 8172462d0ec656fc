package preview

import "context"

// QueryExecutor is the injected query backend. The preview engine builds
// typed parameters and dispatches here; what executes the SQL (a remote
// query service, a local SQLite database) is the implementation's concern.
type QueryExecutor interface {
	Query(ctx context.Context, req QueryRequest) ([]Row, error)
}

// QueryRequest is one datasource query.
type QueryRequest struct {
	Table       string  `json:"table"`
	Network     string  `json:"network"`
	Subnet      string  `json:"subnet,omitempty"`
	SQL         string  `json:"sql_text"`
	Params      []Param `json:"positional_params"`
	Limit       int     `json:"limit,omitempty"`
	TimeoutSecs int     `json:"timeout_seconds,omitempty"`
}

// Row is one result row as returned by the executor: column name to plain
// JSON value. The engine converts values through the expr value model
// before evaluation.
type Row map[string]any
