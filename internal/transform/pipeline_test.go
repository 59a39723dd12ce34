package transform

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"tablesync/internal/domain"
	"tablesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newPipeline() (*Pipeline, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)
	return NewPipeline(&logger), buf
}

func TestTransform_NamedTransforms(t *testing.T) {
	p, _ := newPipeline()
	rows := []*models.Record{
		models.RecordFromPairs("name", "  alice ", "code", "ab-1", "paid", "yes", "amount", "12.50", "day", "2024-03-01"),
	}
	mappings := []models.FieldMapping{
		{SourceColumn: "name", TargetField: "Name", TransformName: "trim"},
		{SourceColumn: "code", TargetField: "Code", TransformName: "toUpperCase"},
		{SourceColumn: "paid", TargetField: "Paid", TransformName: "toBoolean"},
		{SourceColumn: "amount", TargetField: "Amount", TransformName: "toNumber"},
		{SourceColumn: "day", TargetField: "Day", TransformName: "toDate"},
	}

	res := p.Transform(rows, mappings, nil)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Warnings)

	rec := res.Records[0]
	assert.Equal(t, []string{"Name", "Code", "Paid", "Amount", "Day"}, rec.Keys())
	assert.Equal(t, []interface{}{"alice", "AB-1", true, 12.5, "2024-03-01T00:00:00Z"}, rec.Values())
}

func TestTransform_TransformIsPure(t *testing.T) {
	p, _ := newPipeline()
	row := models.RecordFromPairs("a", "x", "b", "y")
	forward := []models.FieldMapping{
		{SourceColumn: "a", TargetField: "A", TransformName: "toUpperCase"},
		{SourceColumn: "b", TargetField: "B", TransformName: "toLowerCase"},
	}
	reverse := []models.FieldMapping{forward[1], forward[0]}

	r1 := p.Transform([]*models.Record{row}, forward, nil).Records[0]
	r2 := p.Transform([]*models.Record{row}, reverse, nil).Records[0]
	a1, _ := r1.Get("A")
	a2, _ := r2.Get("A")
	assert.Equal(t, "X", a1)
	assert.Equal(t, a1, a2)

	orig, _ := row.Get("a")
	assert.Equal(t, "x", orig, "source row must not be modified")
}

func TestTransform_IntrospectedTypes(t *testing.T) {
	p, _ := newPipeline()
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("X", 3600))
	rows := []*models.Record{
		models.RecordFromPairs("qty", "7", "at", at, "flag", int64(1), "note", 42.0),
	}
	mappings := []models.FieldMapping{
		{SourceColumn: "qty", TargetField: "Qty"},
		{SourceColumn: "at", TargetField: "At"},
		{SourceColumn: "flag", TargetField: "Flag"},
		{SourceColumn: "note", TargetField: "Note"},
	}
	types := map[string]models.FieldType{
		"Qty":  models.FieldTypeNumber,
		"At":   models.FieldTypeDatetime,
		"Flag": models.FieldTypeBoolean,
		"Note": models.FieldTypeText,
	}

	res := p.Transform(rows, mappings, types)
	require.Len(t, res.Records, 1)
	assert.Equal(t, []interface{}{7.0, "2024-05-06T06:08:09Z", true, "42"}, res.Records[0].Values())
}

func TestTransform_CoercionFailureKeepsValue(t *testing.T) {
	p, logs := newPipeline()
	rows := []*models.Record{models.RecordFromPairs("id", int64(1), "amount", "abc")}
	mappings := []models.FieldMapping{
		{SourceColumn: "id", TargetField: "ID"},
		{SourceColumn: "amount", TargetField: "Amount", DataType: models.DataTypeNumber},
	}

	res := p.Transform(rows, mappings, map[string]models.FieldType{})
	require.Len(t, res.Records, 1)
	v, _ := res.Records[0].Get("Amount")
	assert.Equal(t, "abc", v)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Amount", res.Warnings[0].Field)
	assert.Equal(t, 0, res.Warnings[0].Row)
	assert.Contains(t, logs.String(), "Cell coercion failed")
}

func TestTransform_NilAndDefaults(t *testing.T) {
	p, _ := newPipeline()
	rows := []*models.Record{
		models.RecordFromPairs("a", nil, "b", "", "c", nil),
	}
	mappings := []models.FieldMapping{
		{SourceColumn: "a", TargetField: "A", DataType: models.DataTypeNumber},
		{SourceColumn: "b", TargetField: "B", DefaultValue: strPtr("5"), DataType: models.DataTypeNumber},
		{SourceColumn: "c", TargetField: "C", DefaultValue: strPtr("none")},
		{SourceColumn: "missing", TargetField: "D"},
	}

	res := p.Transform(rows, mappings, nil)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []interface{}{nil, 5.0, "none", nil}, res.Records[0].Values())
}

func TestTransform_RequiredRejectsRow(t *testing.T) {
	p, logs := newPipeline()
	rows := []*models.Record{
		models.RecordFromPairs("id", int64(1), "email", "a@x"),
		models.RecordFromPairs("id", int64(2), "email", ""),
		models.RecordFromPairs("id", int64(3), "email", nil),
	}
	mappings := []models.FieldMapping{
		{SourceColumn: "id", TargetField: "ID"},
		{SourceColumn: "email", TargetField: "Email", Required: true},
	}

	res := p.Transform(rows, mappings, nil)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 2, res.Rejected)
	assert.Contains(t, logs.String(), "required field is empty")
}

func TestTransform_JSONDataType(t *testing.T) {
	p, _ := newPipeline()
	rows := []*models.Record{models.RecordFromPairs("meta", `{"a":1}`, "bad", "{oops")}
	mappings := []models.FieldMapping{
		{SourceColumn: "meta", TargetField: "Meta", DataType: models.DataTypeJSON},
		{SourceColumn: "bad", TargetField: "Bad", DataType: models.DataTypeJSON},
	}

	res := p.Transform(rows, mappings, nil)
	assert.Equal(t, []interface{}{`{"a":1}`, "{oops"}, res.Records[0].Values())
	assert.Len(t, res.Warnings, 1)
}

func TestTransform_UnknownTransformWarns(t *testing.T) {
	p, _ := newPipeline()
	res := p.Transform(
		[]*models.Record{models.RecordFromPairs("a", "x")},
		[]models.FieldMapping{{SourceColumn: "a", TargetField: "A", TransformName: "reverse"}},
		nil,
	)
	require.Len(t, res.Records, 1)
	v, _ := res.Records[0].Get("A")
	assert.Equal(t, "x", v)
	assert.Len(t, res.Warnings, 1)
}

func TestFunctions(t *testing.T) {
	tests := []struct {
		name    string
		fn      string
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"trim bytes", "trim", []byte(" a "), "a", false},
		{"upper number", "toUpperCase", 1.5, "1.5", false},
		{"number int passthrough", "toNumber", int64(3), int64(3), false},
		{"number bad", "toNumber", "1,5", nil, true},
		{"number inf", "toNumber", "Inf", nil, true},
		{"number bool", "toNumber", true, nil, true},
		{"bool on", "toBoolean", "ON", true, false},
		{"bool zero", "toBoolean", 0.0, false, false},
		{"bool bad", "toBoolean", "maybe", nil, true},
		{"date dotted", "toDate", "31.12.2023", "2023-12-31T00:00:00Z", false},
		{"date unix", "toDate", int64(0), "1970-01-01T00:00:00Z", false},
		{"date bad", "toDate", "yesterday", nil, true},
		{"string time", "toString", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-01-01T00:00:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := Lookup(tt.fn)
			require.True(t, ok)
			got, err := fn(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := []models.FieldMapping{
		{SourceColumn: "id", TargetField: "ID", DataType: models.DataTypeNumber},
		{SourceColumn: "name", TargetField: "Name", TransformName: "trim"},
	}
	assert.NoError(t, Validate("m1", valid))

	tests := []struct {
		name   string
		fields []models.FieldMapping
		want   string
	}{
		{"empty", nil, "no field mappings"},
		{"duplicate source", []models.FieldMapping{
			{SourceColumn: "id", TargetField: "A"}, {SourceColumn: "id", TargetField: "B"},
		}, "source column id mapped twice"},
		{"duplicate target", []models.FieldMapping{
			{SourceColumn: "a", TargetField: "X"}, {SourceColumn: "b", TargetField: "X"},
		}, "target field X written twice"},
		{"unknown transform", []models.FieldMapping{
			{SourceColumn: "a", TargetField: "A", TransformName: "shout"},
		}, "unknown transform shout"},
		{"unknown data type", []models.FieldMapping{
			{SourceColumn: "a", TargetField: "A", DataType: "money"},
		}, "unknown data type money"},
		{"blank column", []models.FieldMapping{
			{SourceColumn: " ", TargetField: "A"},
		}, "empty source column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("m1", tt.fields)
			require.Error(t, err)
			var cfgErr *domain.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, domain.IsRetryable(err))
		})
	}

	assert.Equal(t, []string{"toBoolean", "toDate", "toLowerCase", "toNumber", "toString", "toUpperCase", "trim"}, Names())
}
