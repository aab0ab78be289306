package arrowcodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/improve-ai/tracker/go/columnar"
)

func testSchema() []columnar.Column {
	return []columnar.Column{
		{Name: "decision_id", Type: columnar.String},
		{Name: "count", Type: columnar.Int64, Nullable: true},
		{Name: "reward", Type: columnar.Float64, Nullable: true},
	}
}

func TestEncodeDecode_RoundTripsValuesAndNulls(t *testing.T) {
	table := columnar.NewTable(testSchema())
	table.Columns["decision_id"] = []interface{}{"a", "b", "c"}
	table.Columns["count"] = []interface{}{int64(1), nil, int64(3)}
	table.Columns["reward"] = []interface{}{0.5, -1.25, nil}
	table.NumRows = 3

	codec := New()
	data, err := codec.Encode(table)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, 3, decoded.Len())
	require.Equal(t, []interface{}{"a", "b", "c"}, decoded.Columns["decision_id"])
	require.Equal(t, []interface{}{int64(1), nil, int64(3)}, decoded.Columns["count"])
	require.Equal(t, []interface{}{0.5, -1.25, nil}, decoded.Columns["reward"])
}

func TestEncodeDecode_EmptyTable(t *testing.T) {
	table := columnar.NewTable(testSchema())

	codec := New()
	data, err := codec.Encode(table)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, 0, decoded.Len())
}

func TestExtension(t *testing.T) {
	require.Equal(t, "arrow", New().Extension())
}
