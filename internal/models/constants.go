package models

const (
	JobStatusIdle    = "idle"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

const (
	LogStatusRunning = "running"
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
)

const (
	StrategyOverwrite = "overwrite"
	StrategyAppend    = "append"
	// StrategyMerge currently behaves exactly like StrategyOverwrite.
	StrategyMerge = "merge"
)

// Field data types a mapping can declare.
const (
	DataTypeString  = "string"
	DataTypeNumber  = "number"
	DataTypeDate    = "date"
	DataTypeBoolean = "boolean"
	DataTypeJSON    = "json"
)

// FieldType is a destination column type reported by a sink.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeBoolean  FieldType = "boolean"
)

const (
	SinkKindGoogle = "google"
	SinkKindXLSX   = "xlsx"
)

const (
	// DefaultMaxRetries is applied to jobs defined without max_retries.
	DefaultMaxRetries = 3

	// DefaultLogsLimit is the page size for ledger queries.
	DefaultLogsLimit = 50

	// MaxLogsLimit caps ledger queries from the control API.
	MaxLogsLimit = 500
)

func ValidStrategy(s string) bool {
	switch s {
	case StrategyOverwrite, StrategyAppend, StrategyMerge:
		return true
	}
	return false
}
