// Package tabular turns persisted source records into a rectangular table.
package tabular

import (
	"github.com/google/uuid"

	"github.com/rpattn/beneficiary/internal/domain"
)

// IDColumn is populated from each source record's identifier.
const IDColumn = "id"

// Row is one line of a Table. Values holds every table column, with Null
// filling keys the source record never supplied.
type Row struct {
	ID     uuid.UUID
	Values domain.Fields
}

// Get returns the cell for column.
func (r Row) Get(column string) domain.Value {
	v, _ := r.Values.Get(column)
	return v
}

// Table is a rectangular view over a batch of source records.
type Table struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// HasColumn reports whether any record supplied column.
func (t Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Column returns every cell of column in row order.
func (t Table) Column(column string) []domain.Value {
	out := make([]domain.Value, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Get(column)
	}
	return out
}

// Load builds a table with one row per record, in input order. Columns are
// the id column followed by the union of all record keys in first-seen order.
func Load(records []domain.SourceRecord) Table {
	if len(records) == 0 {
		return Table{}
	}

	columns := []string{IDColumn}
	seen := map[string]struct{}{IDColumn: {}}
	for _, record := range records {
		for _, key := range record.Fields.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		var values domain.Fields
		values.Set(IDColumn, domain.StringValue(record.ID.String()))
		for _, column := range columns[1:] {
			value, ok := record.Fields.Get(column)
			if !ok {
				value = domain.Null
			}
			values.Set(column, value)
		}
		rows = append(rows, Row{ID: record.ID, Values: values})
	}

	return Table{Columns: columns, Rows: rows}
}
