package models

// ConnectionConfig identifies a relational database a mapping reads from.
type ConnectionConfig struct {
	Name   string
	Driver string
	DSN    string
}

// SheetRef addresses one sheet inside a spreadsheet-like document.
// Kind selects the sink: "google" uses SpreadsheetID, "xlsx" uses Path.
type SheetRef struct {
	Kind          string `json:"kind" yaml:"kind"`
	SpreadsheetID string `json:"spreadsheet_id,omitempty" yaml:"spreadsheet_id"`
	Path          string `json:"path,omitempty" yaml:"path"`
	Sheet         string `json:"sheet" yaml:"sheet"`
}

func (r SheetRef) String() string {
	switch r.Kind {
	case SinkKindXLSX:
		return r.Kind + ":" + r.Path + "#" + r.Sheet
	default:
		return r.Kind + ":" + r.SpreadsheetID + "#" + r.Sheet
	}
}

// TableMapping binds a source table to a target sheet through field mappings.
type TableMapping struct {
	ID          string         `json:"id" yaml:"id"`
	SourceName  string         `json:"source" yaml:"source"`
	SourceTable string         `json:"table" yaml:"table"`
	Target      SheetRef       `json:"target" yaml:"target"`
	Fields      []FieldMapping `json:"fields" yaml:"fields"`
}

// FieldMapping is one column-to-field rule.
type FieldMapping struct {
	SourceColumn  string  `json:"source_column" yaml:"source_column"`
	TargetField   string  `json:"target_field" yaml:"target_field"`
	TransformName string  `json:"transform,omitempty" yaml:"transform"`
	DefaultValue  *string `json:"default_value,omitempty" yaml:"default_value"`
	Required      bool    `json:"required" yaml:"required"`
	DataType      string  `json:"data_type" yaml:"data_type"`
}
