package listing

import (
	"database/sql"
	"strings"
)

// Field is an extracted value that may be absent. Absence is a valid, persisted value.
type Field = sql.NullString

// Value returns a present Field holding s.
func Value(s string) Field {
	return Field{String: s, Valid: true}
}

// Columns is the fixed column order of every artifact.
var Columns = []string{
	"business_name",
	"address",
	"category",
	"maps_link",
	"phone",
	"rating",
	"review_count",
	"website",
	"email",
}

type Record struct {
	BusinessName Field
	Address      Field
	Category     Field
	MapsLink     Field
	Phone        Field
	Rating       Field
	ReviewCount  Field

	//Populated by the enrichment pass
	Website Field
	Email   Field
}

// Eligible reports whether the record has a business name. Ineligible records never leave extraction.
func (r Record) Eligible() bool {
	return r.BusinessName.Valid && strings.TrimSpace(r.BusinessName.String) != ""
}

// Fields returns the record's fields in Columns order.
func (r Record) Fields() []Field {
	return []Field{
		r.BusinessName,
		r.Address,
		r.Category,
		r.MapsLink,
		r.Phone,
		r.Rating,
		r.ReviewCount,
		r.Website,
		r.Email,
	}
}

// Row returns the record's cells in Columns order, absent fields as empty cells.
func (r Record) Row() []string {
	fields := r.Fields()
	row := make([]string, len(fields))
	for i, f := range fields {
		if f.Valid {
			row[i] = f.String
		}
	}
	return row
}

// FromRow is the inverse of Row: empty cells become absent fields.
func FromRow(row []string) Record {
	cell := func(i int) Field {
		if i >= len(row) || row[i] == "" {
			return Field{}
		}
		return Value(row[i])
	}
	return Record{
		BusinessName: cell(0),
		Address:      cell(1),
		Category:     cell(2),
		MapsLink:     cell(3),
		Phone:        cell(4),
		Rating:       cell(5),
		ReviewCount:  cell(6),
		Website:      cell(7),
		Email:        cell(8),
	}
}
