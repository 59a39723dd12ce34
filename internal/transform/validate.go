package transform

import (
	"fmt"
	"strings"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

var knownDataTypes = map[string]bool{
	"":                     true,
	models.DataTypeString:  true,
	models.DataTypeNumber:  true,
	models.DataTypeDate:    true,
	models.DataTypeBoolean: true,
	models.DataTypeJSON:    true,
}

// Validate checks a mapping's field set. All problems are reported in one
// ConfigurationError.
func Validate(mappingID string, fields []models.FieldMapping) error {
	var problems []string
	if len(fields) == 0 {
		problems = append(problems, "no field mappings")
	}

	sources := make(map[string]bool, len(fields))
	targets := make(map[string]bool, len(fields))
	for i, f := range fields {
		switch {
		case strings.TrimSpace(f.SourceColumn) == "":
			problems = append(problems, fmt.Sprintf("field %d: empty source column", i))
		case sources[f.SourceColumn]:
			problems = append(problems, fmt.Sprintf("source column %s mapped twice", f.SourceColumn))
		}
		sources[f.SourceColumn] = true

		switch {
		case strings.TrimSpace(f.TargetField) == "":
			problems = append(problems, fmt.Sprintf("field %d: empty target field", i))
		case targets[f.TargetField]:
			problems = append(problems, fmt.Sprintf("target field %s written twice", f.TargetField))
		}
		targets[f.TargetField] = true

		if f.TransformName != "" {
			if _, ok := Lookup(f.TransformName); !ok {
				problems = append(problems, fmt.Sprintf("unknown transform %s on %s", f.TransformName, f.SourceColumn))
			}
		}
		if !knownDataTypes[f.DataType] {
			problems = append(problems, fmt.Sprintf("unknown data type %s on %s", f.DataType, f.SourceColumn))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return domain.NewConfigurationError("", fmt.Sprintf("mapping %s: %s", mappingID, strings.Join(problems, "; ")), nil)
}
