package core

import (
	"fmt"
	"sort"

	"ratedesk/pkg/domain"
)

// SortableFields lists the columns a user may sort by.
var SortableFields = []domain.Field{
	domain.FieldOrganization,
	domain.FieldProgram,
	domain.FieldProduct,
	domain.FieldActive,
}

// ParseSortField validates a user-supplied sort column. An empty string selects
// the default order.
func ParseSortField(s string) (domain.Field, error) {
	if s == "" {
		return "", nil
	}
	field, err := domain.ParseField(s)
	if err == nil {
		for _, allowed := range SortableFields {
			if field == allowed {
				return field, nil
			}
		}
	}
	return "", &domain.ValidationError{Field: "sort", Message: fmt.Sprintf("unsupported sort column %q", s)}
}

// SortRecords orders records in place. With no field, records are ordered by
// updated_last descending; otherwise ascending by field. Ties keep fetch order.
func SortRecords(records []domain.Record, field domain.Field) {
	if field == "" {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].UpdatedLast.After(records[j].UpdatedLast)
		})
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return lessValue(records[i].Value(field), records[j].Value(field))
	})
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		return av < b.(string)
	case bool:
		return !av && b.(bool)
	default:
		return false
	}
}
