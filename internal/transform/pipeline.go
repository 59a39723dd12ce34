package transform

import (
	"tablesync/internal/domain"
	"tablesync/internal/models"

	"github.com/rs/zerolog"
)

// Result is the outcome of transforming one batch of source rows.
type Result struct {
	Records  []*models.Record
	Warnings []domain.CellCoercionWarning
	// Rejected counts rows dropped because a required field stayed empty.
	Rejected int
}

type Pipeline struct {
	logger zerolog.Logger
}

func NewPipeline(logger *zerolog.Logger) *Pipeline {
	return &Pipeline{logger: logger.With().Str("component", "transform").Logger()}
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []byte:
		return len(val) == 0
	}
	return false
}

// Transform maps every row through mappings. fieldTypes holds destination
// types keyed by target field; a missing entry means unknown.
func (p *Pipeline) Transform(rows []*models.Record, mappings []models.FieldMapping, fieldTypes map[string]models.FieldType) Result {
	res := Result{Records: make([]*models.Record, 0, len(rows))}

	for i, row := range rows {
		out, warnings, rejectedField := p.transformRow(i, row, mappings, fieldTypes)
		res.Warnings = append(res.Warnings, warnings...)
		if rejectedField != "" {
			res.Rejected++
			p.logger.Warn().Int("row", i).Str("field", rejectedField).Msg("Row rejected: required field is empty")
			continue
		}
		res.Records = append(res.Records, out)
	}
	return res
}

func (p *Pipeline) transformRow(
	idx int,
	row *models.Record,
	mappings []models.FieldMapping,
	fieldTypes map[string]models.FieldType,
) (*models.Record, []domain.CellCoercionWarning, string) {
	out := models.NewRecord()
	var warnings []domain.CellCoercionWarning

	for _, m := range mappings {
		val, _ := row.Get(m.SourceColumn)
		if m.DefaultValue != nil && isEmpty(val) {
			val = *m.DefaultValue
		}
		if m.Required && isEmpty(val) {
			return nil, warnings, m.TargetField
		}
		if val == nil {
			out.Set(m.TargetField, nil)
			continue
		}

		fn, target := p.resolve(m, fieldTypes)
		if fn == nil {
			out.Set(m.TargetField, val)
			continue
		}

		converted, err := fn(val)
		if err != nil {
			w := domain.CellCoercionWarning{Row: idx, Field: m.TargetField, Target: target, Value: val, Cause: err.Error()}
			warnings = append(warnings, w)
			p.logger.Warn().
				Int("row", idx).
				Str("field", m.TargetField).
				Str("target_type", target).
				Str("cause", w.Cause).
				Msg("Cell coercion failed, keeping original value")
			out.Set(m.TargetField, val)
			continue
		}
		out.Set(m.TargetField, converted)
	}
	return out, warnings, ""
}

// resolve chooses the named transform, else the introspected type, else the
// declared data type.
func (p *Pipeline) resolve(m models.FieldMapping, fieldTypes map[string]models.FieldType) (Func, string) {
	if m.TransformName != "" {
		if fn, ok := Lookup(m.TransformName); ok {
			return fn, m.TransformName
		}
		return func(interface{}) (interface{}, error) {
			return nil, domain.NewConfigurationError("", "unknown transform "+m.TransformName, nil)
		}, m.TransformName
	}
	if ft, ok := fieldTypes[m.TargetField]; ok && ft != "" {
		return coercerFor(ft), string(ft)
	}
	return hintFromDataType(m.DataType)
}
