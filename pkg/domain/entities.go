// Package domain holds the record model shared by the ratedesk service, its
// persistence backends and its HTTP surface.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Field identifies a logical column of a record independent of the variant's
// physical column names.
type Field string

const (
	FieldOrganization Field = "organization"
	FieldProgram      Field = "program"
	FieldProduct      Field = "product"
	FieldMeasure      Field = "measure"
	FieldActive       Field = "active"
	FieldUpdatedLast  Field = "updated_last"
	FieldUsername     Field = "username"
)

// Fields lists every logical column in display order.
var Fields = []Field{
	FieldOrganization,
	FieldProgram,
	FieldProduct,
	FieldMeasure,
	FieldActive,
	FieldUpdatedLast,
	FieldUsername,
}

// Editable reports whether the field may be changed from the table view.
func (f Field) Editable() bool {
	return f == FieldMeasure || f == FieldActive
}

// NaturalKey is the (organization, program, product) triple that identifies
// one logical record.
type NaturalKey struct {
	Organization string `json:"organization"`
	Program      string `json:"program"`
	Product      string `json:"product"`
}

func (k NaturalKey) String() string {
	return k.Organization + "/" + k.Program + "/" + k.Product
}

// Record is one persisted commission or ULR row.
type Record struct {
	Organization string    `json:"organization"`
	Program      string    `json:"program"`
	Product      string    `json:"product"`
	Measure      float64   `json:"measure"`
	Active       bool      `json:"active"`
	UpdatedLast  time.Time `json:"updated_last"`
	Username     string    `json:"username"`
}

// Key returns the record's natural key.
func (r Record) Key() NaturalKey {
	return NaturalKey{Organization: r.Organization, Program: r.Program, Product: r.Product}
}

// Value returns the record's value for a logical field, used by sorting and
// CSV rendering.
func (r Record) Value(f Field) any {
	switch f {
	case FieldOrganization:
		return r.Organization
	case FieldProgram:
		return r.Program
	case FieldProduct:
		return r.Product
	case FieldMeasure:
		return r.Measure
	case FieldActive:
		return r.Active
	case FieldUpdatedLast:
		return r.UpdatedLast
	case FieldUsername:
		return r.Username
	default:
		return nil
	}
}

// RecordChange carries the writable columns applied by an update-by-key.
type RecordChange struct {
	Measure     float64
	Active      bool
	UpdatedLast time.Time
	Username    string
}

// MappingRow is one organization/program/product association from the
// variant's mapping table. The cascade selectors read from it.
type MappingRow struct {
	Organization string `json:"organization"`
	Program      string `json:"program"`
	Product      string `json:"product"`
}

// Value returns the mapping row's value for a key field.
func (m MappingRow) Value(f Field) string {
	switch f {
	case FieldOrganization:
		return m.Organization
	case FieldProgram:
		return m.Program
	case FieldProduct:
		return m.Product
	default:
		return ""
	}
}

// ParseField maps user input onto a logical field.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", s)
}
