// Package arrowcodec implements columnar.Codec on top of Apache Arrow's
// IPC stream format with Zstandard frame compression.
package arrowcodec

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/improve-ai/tracker/go/columnar"
	"github.com/improve-ai/tracker/go/skerr"
)

// Codec encodes columnar.Tables as Arrow IPC streams.
type Codec struct {
	alloc memory.Allocator
}

var _ columnar.Codec = (*Codec)(nil)

// New returns a Codec using the default Go allocator.
func New() *Codec {
	return &Codec{alloc: memory.NewGoAllocator()}
}

func (c *Codec) Extension() string {
	return "arrow"
}

func arrowType(t columnar.Type) (arrow.DataType, error) {
	switch t {
	case columnar.String:
		return arrow.BinaryTypes.String, nil
	case columnar.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case columnar.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	default:
		return nil, fmt.Errorf("arrowcodec: unsupported column type %d", t)
	}
}

func (c *Codec) arrowSchema(schema []columnar.Column) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(schema))
	for i, col := range schema {
		dt, err := arrowType(col.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// Encode implements columnar.Codec.
func (c *Codec) Encode(t columnar.Table) ([]byte, error) {
	schema, err := c.arrowSchema(t.Schema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	bldr := array.NewRecordBuilder(c.alloc, schema)
	defer bldr.Release()

	for colIdx, col := range t.Schema {
		values := t.Columns[col.Name]
		fb := bldr.Field(colIdx)
		for row := 0; row < t.Len(); row++ {
			var v interface{}
			if row < len(values) {
				v = values[row]
			}
			if v == nil {
				fb.AppendNull()
				continue
			}
			switch col.Type {
			case columnar.String:
				fb.(*array.StringBuilder).Append(v.(string))
			case columnar.Int64:
				fb.(*array.Int64Builder).Append(v.(int64))
			case columnar.Float64:
				fb.(*array.Float64Builder).Append(v.(float64))
			}
		}
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithZstd(), ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, skerr.Wrapf(err, "opening arrow ipc writer")
	}
	if err := w.Write(rec); err != nil {
		return nil, skerr.Wrapf(err, "writing arrow record batch")
	}
	if err := w.Close(); err != nil {
		return nil, skerr.Wrapf(err, "closing arrow ipc writer")
	}
	return buf.Bytes(), nil
}

// Decode implements columnar.Codec.
func (c *Codec) Decode(data []byte) (columnar.Table, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.alloc))
	if err != nil {
		return columnar.Table{}, skerr.Wrapf(err, "opening arrow ipc reader")
	}
	defer r.Release()

	schema, err := columnSchemaFrom(r.Schema())
	if err != nil {
		return columnar.Table{}, err
	}
	table := columnar.NewTable(schema)

	for r.Next() {
		rec := r.Record()
		for colIdx, col := range schema {
			arr := rec.Column(colIdx)
			vals, err := extractColumn(arr, col.Type)
			if err != nil {
				return columnar.Table{}, err
			}
			table.Columns[col.Name] = append(table.Columns[col.Name], vals...)
		}
		table.NumRows += int(rec.NumRows())
	}
	if err := r.Err(); err != nil {
		return columnar.Table{}, skerr.Wrapf(err, "reading arrow record batches")
	}
	return table, nil
}

func columnSchemaFrom(schema *arrow.Schema) ([]columnar.Column, error) {
	cols := make([]columnar.Column, schema.NumFields())
	for i, f := range schema.Fields() {
		var t columnar.Type
		switch f.Type.ID() {
		case arrow.STRING:
			t = columnar.String
		case arrow.INT64:
			t = columnar.Int64
		case arrow.FLOAT64:
			t = columnar.Float64
		default:
			return nil, fmt.Errorf("arrowcodec: unsupported arrow type %s for column %q", f.Type, f.Name)
		}
		cols[i] = columnar.Column{Name: f.Name, Type: t, Nullable: f.Nullable}
	}
	return cols, nil
}

func extractColumn(arr arrow.Array, t columnar.Type) ([]interface{}, error) {
	out := make([]interface{}, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		switch t {
		case columnar.String:
			out[i] = arr.(*array.String).Value(i)
		case columnar.Int64:
			out[i] = arr.(*array.Int64).Value(i)
		case columnar.Float64:
			out[i] = arr.(*array.Float64).Value(i)
		}
	}
	return out, nil
}
