// Package columnar defines the columnar-file codec interface the ingest
// engine depends on for reading and writing partitions. Concrete codecs
// live in sibling packages (arrowcodec).
package columnar

// Type enumerates the column types a Table may contain. RDR columns are
// restricted to these three: JSON-valued fields (variant, givens,
// runners_up, sample, rewards) are pre-serialized to canonical JSON
// strings before reaching the codec.
type Type int

const (
	String Type = iota
	Int64
	Float64
)

// Column describes one column of a Table.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// Table is a column-oriented, schema-described in-memory dataset. Every
// slice in Columns has exactly Len() entries; a nil entry represents SQL
// NULL for a nullable column.
type Table struct {
	Schema  []Column
	Columns map[string][]interface{}
	NumRows int
}

// Len returns the row count of the table.
func (t Table) Len() int {
	return t.NumRows
}

// NewTable returns an empty Table with the given schema and an empty
// (nil) slice for every column, ready to be appended to row by row.
func NewTable(schema []Column) Table {
	cols := make(map[string][]interface{}, len(schema))
	for _, c := range schema {
		cols[c.Name] = nil
	}
	return Table{Schema: schema, Columns: cols}
}

// Codec encodes and decodes a Table to and from a columnar file format.
type Codec interface {
	Encode(t Table) ([]byte, error)
	Decode(data []byte) (Table, error)

	// Extension returns the file extension (without the leading dot) this
	// codec produces, used when computing a partition's object-store key.
	Extension() string
}
