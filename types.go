package dbguard

// QueryInput is one query invocation. Params keys must be unique and must
// not use the reserved row-cap parameter name. Environment, MaxRows, and
// TimeoutMS are optional overrides; zero values mean "use the process
// default".
type QueryInput struct {
	SQL         string         `json:"sql"`
	Params      map[string]any `json:"params,omitempty"`
	Environment string         `json:"environment,omitempty"`
	MaxRows     int            `json:"max_rows,omitempty"`
	TimeoutMS   int            `json:"timeout_ms,omitempty"`
}

// QueryResult is the outcome of a successful query. Truncated is true iff
// the row count equals the effective cap, an explicit non-error signal
// that more rows existed than were returned.
type QueryResult struct {
	Rows        []map[string]any `json:"results"`
	Count       int              `json:"count"`
	Truncated   bool             `json:"truncated"`
	MaxRows     int              `json:"max_rows"`
	TimeoutMS   int64            `json:"statement_timeout_ms"`
	Environment string           `json:"environment"`
}

// ColumnInfo describes one column of a table, in physical column order.
type ColumnInfo struct {
	Name      string `json:"column_name"`
	DataType  string `json:"data_type"`
	Nullable  bool   `json:"is_nullable"`
	Default   string `json:"column_default,omitempty"`
	MaxLength *int64 `json:"character_maximum_length,omitempty"`
}

// TableSchema is the full description of one table.
type TableSchema struct {
	Table       string       `json:"table"`
	Columns     []ColumnInfo `json:"schema"`
	PrimaryKeys []string     `json:"primary_keys"`
}

// TableDetail is one table's entry in the AllSchemas aggregation. SampleData
// holds up to five rows; it is empty when sampling failed for this table.
type TableDetail struct {
	Columns     []ColumnInfo     `json:"schema"`
	PrimaryKeys []string         `json:"primary_keys"`
	SampleData  []map[string]any `json:"sample_data"`
}
