package tabular

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grebion/tables/internal/model"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want model.ColumnType
		ok   bool
	}{
		{"text", model.TypeText, true},
		{"string", model.TypeText, true},
		{"Integer", model.TypeNumber, true},
		{"int", model.TypeNumber, true},
		{"double", model.TypeFloat, true},
		{"bool", model.TypeBoolean, true},
		{" multiselect ", model.TypeMultiselect, true},
		{"json", model.TypeJSON, true},
		{"blob", model.ColumnType("blob"), false},
	}
	for _, tt := range tests {
		got, ok := NormalizeType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestParseSchema(t *testing.T) {
	cols, err := ParseSchema(`{"columns":[{"code":"name","title":"Name","type":"text","sort":100},{"code":"color","title":"Color","type":"select","sort":200,"options":["red","blue"]}]}`)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "color", cols[1].Code)
	assert.True(t, cols[1].Options.Has("blue"))

	_, err = ParseSchema(`{"columns":[`)
	assert.Error(t, err)

	cols, err = ParseSchema("")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestEncodeSchemaRoundTrip(t *testing.T) {
	raw, err := EncodeSchema(nil)
	require.NoError(t, err)
	assert.Equal(t, `{"columns":[]}`, raw)

	in := []model.SchemaColumn{{Code: "a", Title: "A", Type: model.TypeText, Sort: 100}}
	raw, err = EncodeSchema(in)
	require.NoError(t, err)
	out, err := ParseSchema(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNormalizeColumns(t *testing.T) {
	in := []model.SchemaColumn{
		{Title: " Цена товара ", Type: "double"},
		{Code: "qty", Title: "Qty", Type: "", Sort: 50},
	}
	out := NormalizeColumns(in)

	assert.Equal(t, "tsena_tovara", out[0].Code)
	assert.Equal(t, "Цена товара", out[0].Title)
	assert.Equal(t, model.TypeFloat, out[0].Type)
	assert.Equal(t, 100, out[0].Sort)
	assert.Equal(t, model.TypeText, out[1].Type)
	assert.Equal(t, 50, out[1].Sort)
	assert.Equal(t, "", in[0].Code, "input must not be modified")
}

func TestValidateColumns(t *testing.T) {
	valid := []model.SchemaColumn{
		{Code: "name", Title: "Name", Type: model.TypeText},
		{Code: "price", Title: "Price", Type: model.TypeFloat},
	}
	assert.NoError(t, ValidateColumns(valid))

	tests := []struct {
		name string
		cols []model.SchemaColumn
		code string
	}{
		{"empty", nil, CodeEmptyColumns},
		{"missing title", []model.SchemaColumn{{Code: "a", Type: model.TypeText}}, CodeInvalidColumn},
		{"bad code", []model.SchemaColumn{{Code: "Bad-Code", Title: "A", Type: model.TypeText}}, CodeInvalidCode},
		{"bad type", []model.SchemaColumn{{Code: "a", Title: "A", Type: "blob"}}, CodeInvalidType},
		{"duplicate code", []model.SchemaColumn{
			{Code: "a", Title: "A", Type: model.TypeText},
			{Code: "a", Title: "B", Type: model.TypeText},
		}, CodeDuplicateCode},
		{"duplicate title", []model.SchemaColumn{
			{Code: "a", Title: "Same", Type: model.TypeText},
			{Code: "b", Title: "same", Type: model.TypeText},
		}, CodeDuplicateTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateColumns(tt.cols)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.First().Code)
		})
	}
}

func TestValidateTableName(t *testing.T) {
	assert.NoError(t, ValidateTableName("Prices"))
	assert.Error(t, ValidateTableName("   "))

	long := make([]rune, model.MaxTableTitleLen+1)
	for i := range long {
		long[i] = 'я'
	}
	assert.Error(t, ValidateTableName(string(long)))
}

func TestValidateFieldValue(t *testing.T) {
	colors := model.Options{{Value: "r", Label: "Red"}, {Value: "g", Label: "Green"}}

	tests := []struct {
		name    string
		col     model.SchemaColumn
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"text", model.SchemaColumn{Type: model.TypeText}, "hello", "hello", false},
		{"text number", model.SchemaColumn{Type: model.TypeText}, 12.0, "12", false},
		{"text max length", model.SchemaColumn{Type: model.TypeText, Settings: &model.ColumnSettings{MaxLength: 3}}, "привет", nil, true},
		{"number", model.SchemaColumn{Type: model.TypeNumber}, "42", int64(42), false},
		{"number truncates", model.SchemaColumn{Type: model.TypeNumber}, 12.9, int64(12), false},
		{"number invalid", model.SchemaColumn{Type: model.TypeNumber}, "abc", nil, true},
		{"number below min", model.SchemaColumn{Type: model.TypeNumber, Settings: &model.ColumnSettings{MinValue: floatPtr(10)}}, 5.0, nil, true},
		{"number above max", model.SchemaColumn{Type: model.TypeNumber, Settings: &model.ColumnSettings{MaxValue: floatPtr(10)}}, 11.0, nil, true},
		{"number beyond int64", model.SchemaColumn{Type: model.TypeNumber}, 1e19, nil, true},
		{"number below int64", model.SchemaColumn{Type: model.TypeNumber}, "-1e19", nil, true},
		{"number zero", model.SchemaColumn{Type: model.TypeNumber, Required: true}, 0.0, int64(0), false},
		{"file beyond int64", model.SchemaColumn{Type: model.TypeFile}, 1e19, nil, true},
		{"float", model.SchemaColumn{Type: model.TypeFloat}, "3.5", 3.5, false},
		{"boolean", model.SchemaColumn{Type: model.TypeBoolean}, "0", false, false},
		{"boolean true", model.SchemaColumn{Type: model.TypeBoolean}, 1.0, true, false},
		{"date", model.SchemaColumn{Type: model.TypeDate}, "31.12.2024", "2024-12-31", false},
		{"date invalid", model.SchemaColumn{Type: model.TypeDate}, "yesterday", nil, true},
		{"datetime", model.SchemaColumn{Type: model.TypeDateTime}, "2024-01-02T03:04:05Z", "2024-01-02 03:04:05", false},
		{"select", model.SchemaColumn{Type: model.TypeSelect, Options: colors}, "r", "r", false},
		{"select invalid", model.SchemaColumn{Type: model.TypeSelect, Options: colors}, "x", nil, true},
		{"select without options", model.SchemaColumn{Type: model.TypeSelect}, "x", "x", false},
		{"multiselect", model.SchemaColumn{Type: model.TypeMultiselect, Options: colors}, []interface{}{"r", "g"}, []string{"r", "g"}, false},
		{"multiselect not list", model.SchemaColumn{Type: model.TypeMultiselect, Options: colors}, "r", nil, true},
		{"multiselect invalid item", model.SchemaColumn{Type: model.TypeMultiselect, Options: colors}, []interface{}{"r", "x"}, nil, true},
		{"file", model.SchemaColumn{Type: model.TypeFile}, "15", int64(15), false},
		{"file invalid", model.SchemaColumn{Type: model.TypeFile}, "doc.pdf", nil, true},
		{"json string", model.SchemaColumn{Type: model.TypeJSON}, `{"a":1}`, map[string]interface{}{"a": 1.0}, false},
		{"json invalid", model.SchemaColumn{Type: model.TypeJSON}, `{"a":`, nil, true},
		{"json scalar", model.SchemaColumn{Type: model.TypeJSON}, 5.0, nil, true},
		{"email", model.SchemaColumn{Type: model.TypeEmail}, "a@b.io", "a@b.io", false},
		{"email invalid", model.SchemaColumn{Type: model.TypeEmail}, "nope", nil, true},
		{"url", model.SchemaColumn{Type: model.TypeURL}, "https://example.com/x", "https://example.com/x", false},
		{"url invalid", model.SchemaColumn{Type: model.TypeURL}, "example", nil, true},
		{"phone", model.SchemaColumn{Type: model.TypePhone}, "+7 (999) 123-45-67", "+7 (999) 123-45-67", false},
		{"empty optional", model.SchemaColumn{Type: model.TypeNumber}, "", nil, false},
		{"empty required", model.SchemaColumn{Type: model.TypeText, Required: true}, " ", nil, true},
		{"required via settings", model.SchemaColumn{Type: model.TypeText, Settings: &model.ColumnSettings{Required: true}}, nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFieldValue(tt.col, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateRowData(t *testing.T) {
	cols := []model.SchemaColumn{
		{Code: "name", Title: "Name", Type: model.TypeText, Required: true},
		{Code: "qty", Title: "Qty", Type: model.TypeNumber},
	}

	out, err := ValidateRowData(cols, map[string]interface{}{"name": "Bolt", "qty": "7"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "Bolt", "qty": int64(7)}, out)

	_, err = ValidateRowData(cols, map[string]interface{}{"name": "Bolt", "color": "red", "qty": "x"}, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 2)
	assert.Equal(t, "column 'color' not found", verr.Errors[0].Message)
	assert.Equal(t, CodeUnknownColumn, verr.Errors[0].Code)
	assert.Equal(t, CodeInvalidValue, verr.Errors[1].Code)

	_, err = ValidateRowData(cols, map[string]interface{}{"qty": 1.0}, false)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeRequired, verr.First().Code)

	out, err = ValidateRowData(cols, map[string]interface{}{"qty": ""}, true)
	require.NoError(t, err)
	v, present := out["qty"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestFormatValue(t *testing.T) {
	opts := model.Options{{Value: "r", Label: "Red"}, {Value: "g", Label: "Green"}}

	tests := []struct {
		name string
		col  model.SchemaColumn
		in   interface{}
		want string
	}{
		{"nil", model.SchemaColumn{Type: model.TypeText}, nil, ""},
		{"empty", model.SchemaColumn{Type: model.TypeNumber}, "", ""},
		{"text", model.SchemaColumn{Type: model.TypeText}, "abc", "abc"},
		{"number grouping", model.SchemaColumn{Type: model.TypeNumber}, 1234.0, "1 234"},
		{"number large", model.SchemaColumn{Type: model.TypeNumber}, int64(1234567), "1 234 567"},
		{"number negative", model.SchemaColumn{Type: model.TypeNumber}, -1234.0, "-1 234"},
		{"float default decimals", model.SchemaColumn{Type: model.TypeFloat}, 1234.5, "1 234,50"},
		{"float decimals", model.SchemaColumn{Type: model.TypeFloat, Settings: &model.ColumnSettings{Decimals: intPtr(1)}}, 0.25, "0,3"},
		{"float zero decimals", model.SchemaColumn{Type: model.TypeFloat, Settings: &model.ColumnSettings{Decimals: intPtr(0)}}, 999.5, "1 000"},
		{"boolean true", model.SchemaColumn{Type: model.TypeBoolean}, true, "Да"},
		{"boolean false", model.SchemaColumn{Type: model.TypeBoolean}, false, "Нет"},
		{"date", model.SchemaColumn{Type: model.TypeDate}, "2024-12-31", "31.12.2024"},
		{"datetime", model.SchemaColumn{Type: model.TypeDateTime}, "2024-12-31 08:05:00", "31.12.2024 08:05:00"},
		{"date unparseable", model.SchemaColumn{Type: model.TypeDate}, "soon", "soon"},
		{"select label", model.SchemaColumn{Type: model.TypeSelect, Options: opts}, "g", "Green"},
		{"select unknown", model.SchemaColumn{Type: model.TypeSelect, Options: opts}, "x", "x"},
		{"multiselect", model.SchemaColumn{Type: model.TypeMultiselect, Options: opts}, []interface{}{"r", "x"}, "Red, x"},
		{"file", model.SchemaColumn{Type: model.TypeFile}, 15.0, "Файл #15"},
		{"file zero", model.SchemaColumn{Type: model.TypeFile}, 0.0, ""},
		{"json", model.SchemaColumn{Type: model.TypeJSON}, map[string]interface{}{"a": "б"}, "{\n    \"a\": \"б\"\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.col, tt.in))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0, 0))
	assert.Equal(t, "999", FormatNumber(999, 0))
	assert.Equal(t, "1 000,00", FormatNumber(1000, 2))
	assert.Equal(t, "12 345,68", FormatNumber(12345.678, 2))
	assert.Equal(t, "-0,50", FormatNumber(-0.5, 2))
	assert.Equal(t, "0,5000000000", FormatNumber(0.5, 400))
	assert.NotContains(t, FormatNumber(1e300, 12), "NaN")
	assert.NotContains(t, FormatNumber(1e300, 12), "Inf")
}

func TestTruncInt(t *testing.T) {
	n, ok := TruncInt(-12.9)
	assert.True(t, ok)
	assert.Equal(t, int64(-12), n)

	_, ok = TruncInt(9.3e18)
	assert.False(t, ok)
	_, ok = TruncInt(-9.3e18)
	assert.False(t, ok)

	_, err := ConvertValue(1e20, model.TypeFloat, model.TypeNumber)
	assert.Error(t, err)
	assert.Equal(t, "1e20", CoerceImported(model.SchemaColumn{Type: model.TypeNumber}, "1e20"))
}

func TestFormatRow(t *testing.T) {
	cols := []model.SchemaColumn{
		{Code: "qty", Type: model.TypeNumber},
		{Code: "ok", Type: model.TypeBoolean},
	}
	got := FormatRow(cols, map[string]interface{}{"qty": 2000.0})
	assert.Equal(t, map[string]string{"qty": "2 000", "ok": ""}, got)
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		from    model.ColumnType
		to      model.ColumnType
		want    interface{}
		wantErr bool
	}{
		{"same type", "x", model.TypeText, model.TypeText, "x", false},
		{"text to number", "12.7", model.TypeText, model.TypeNumber, int64(12), false},
		{"text to number fails", "abc", model.TypeText, model.TypeNumber, nil, true},
		{"bool to number", true, model.TypeBoolean, model.TypeNumber, int64(1), false},
		{"text to float", "1.5", model.TypeText, model.TypeFloat, 1.5, false},
		{"text to float fails", "x", model.TypeText, model.TypeFloat, nil, true},
		{"number to text", 12.0, model.TypeNumber, model.TypeText, "12", false},
		{"number to boolean", 0.0, model.TypeNumber, model.TypeBoolean, false, false},
		{"text to json", `[1,2]`, model.TypeText, model.TypeJSON, []interface{}{1.0, 2.0}, false},
		{"plain text to json", "hello", model.TypeText, model.TypeJSON, map[string]interface{}{"value": "hello"}, false},
		{"number to json", 5.0, model.TypeNumber, model.TypeJSON, map[string]interface{}{"value": 5.0}, false},
		{"text to multiselect", "a, b,,c", model.TypeText, model.TypeMultiselect, []string{"a", "b", "c"}, false},
		{"multiselect to text", []interface{}{"a", "b"}, model.TypeMultiselect, model.TypeText, "a, b", false},
		{"text to date", "01.02.2024", model.TypeText, model.TypeDate, "2024-02-01", false},
		{"nil stays nil", nil, model.TypeText, model.TypeNumber, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertValue(tt.in, tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceImported(t *testing.T) {
	tests := []struct {
		typ  model.ColumnType
		raw  string
		want interface{}
	}{
		{model.TypeNumber, "42", int64(42)},
		{model.TypeNumber, "1 234", int64(1234)},
		{model.TypeNumber, "", nil},
		{model.TypeFloat, "3,25", 3.25},
		{model.TypeBoolean, "Да", true},
		{model.TypeBoolean, "Y", true},
		{model.TypeBoolean, "no", false},
		{model.TypeDate, "", nil},
		{model.TypeDate, "05.03.2024", "2024-03-05"},
		{model.TypeDate, "someday", "someday"},
		{model.TypeDateTime, "2024-03-05 10:00", "2024-03-05 10:00:00"},
		{model.TypeMultiselect, "a,b", []string{"a", "b"}},
		{model.TypeJSON, `{"k":1}`, map[string]interface{}{"k": 1.0}},
		{model.TypeText, "  padded  ", "padded"},
		{model.TypeText, "", nil},
	}
	for _, tt := range tests {
		got := CoerceImported(model.SchemaColumn{Type: tt.typ}, tt.raw)
		assert.Equal(t, tt.want, got, "%s %q", tt.typ, tt.raw)
	}
}

func TestGenerateCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Product Name", "product_name"},
		{"  Цена (руб.)  ", "tsena_rub"},
		{"Щука и ёж", "schuka_i_yozh"},
		{"Объём", "obyom"},
		{"a--b__c", "a_b_c"},
		{"!!!", "column"},
		{"Количество 2", "kolichestvo_2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GenerateCode(tt.in), tt.in)
	}

	long := GenerateCode("a very long column title that keeps going well past the fifty character limit")
	assert.LessOrEqual(t, len(long), model.MaxColumnCodeLen)
	assert.True(t, ValidCode(long))
}

func TestUniqueCode(t *testing.T) {
	taken := map[string]bool{"name": true, "name_2": true}
	assert.Equal(t, "name_3", UniqueCode("name", taken))
	assert.Equal(t, "price", UniqueCode("price", taken))
}

func TestBuildValidationSchema(t *testing.T) {
	cols := []model.SchemaColumn{
		{Code: "status", Title: "Status", Type: model.TypeSelect, Options: model.Options{{Value: "a", Label: "A"}}, Required: true},
	}
	schema := BuildValidationSchema(cols)
	rule, ok := schema["status"]
	require.True(t, ok)
	assert.Equal(t, model.TypeSelect, rule.Type)
	assert.True(t, rule.Required)
	assert.Len(t, rule.Options, 1)

	b, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"required":true`)
}

func TestSortColumns(t *testing.T) {
	cols := []model.SchemaColumn{{Code: "b", Sort: 200}, {Code: "a", Sort: 100}, {Code: "c", Sort: 200}}
	sorted := SortColumns(cols)
	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].Code, sorted[1].Code, sorted[2].Code})
	assert.Equal(t, "b", cols[0].Code)
}
