// Package rowstream implements the Row-Batch Stream (§4.4): a
// producer/consumer buffer that sits between the extended-query
// sub-state machine and the caller, synchronizing a single consumer
// with an asynchronous producer and implementing pull-based
// backpressure (§5).
package rowstream

import (
	"fmt"

	"github.com/riftdata/pgflow/internal/wire"
)

// Columns is the once-built name->index lookup table for a stream's
// row descriptor (§3 "Row descriptor table").
type Columns struct {
	Fields []wire.FieldDescription
	index  map[string]int
}

func NewColumns(fields []wire.FieldDescription) *Columns {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		if _, exists := idx[f.Name]; !exists {
			idx[f.Name] = i
		}
	}
	return &Columns{Fields: fields, index: idx}
}

// IndexOf returns a column's position by name, and false if no column
// has that name (duplicate names resolve to the first occurrence,
// matching how the server itself disambiguates RETURNING/SELECT *).
func (c *Columns) IndexOf(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

func (c *Columns) Len() int { return len(c.Fields) }

// Row is one decoded result row. Values are raw binary-format column
// payloads (§4.2 row-format normalization guarantees this); decoding
// them into Go values is pgtype's job, not this package's.
type Row struct {
	cols   *Columns
	Values [][]byte
}

// NewRow builds a Row from a DataRow message's raw column values. It
// is the only way to attach a Columns lookup table to a Row from
// outside this package (the connection SM builds rows as DataRow
// messages arrive).
func NewRow(cols *Columns, values [][]byte) Row {
	return Row{cols: cols, Values: values}
}

// At returns column i's raw value, nil for SQL NULL.
func (r Row) At(i int) ([]byte, error) {
	if i < 0 || i >= len(r.Values) {
		return nil, fmt.Errorf("rowstream: column index %d out of range [0,%d)", i, len(r.Values))
	}
	return r.Values[i], nil
}

// Column looks up a value by column name.
func (r Row) Column(name string) ([]byte, error) {
	i, ok := r.cols.IndexOf(name)
	if !ok {
		return nil, fmt.Errorf("rowstream: no column named %q", name)
	}
	return r.At(i)
}

func (r Row) Columns() *Columns { return r.cols }
