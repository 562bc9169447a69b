package domain

import (
	"fmt"
	"regexp"
	"sort"
)

// VariantName identifies one of the table/label configurations served by ratedesk.
type VariantName string

const (
	VariantCommission         VariantName = "commission"
	VariantULR                VariantName = "ulr"
	VariantProducerCommission VariantName = "producer_commission"
)

// Columns maps logical fields onto physical column names.
type Columns struct {
	Organization string `json:"organization"`
	Program      string `json:"program"`
	Product      string `json:"product"`
	Measure      string `json:"measure"`
	Active       string `json:"active"`
	UpdatedLast  string `json:"updated_last"`
	Username     string `json:"username"`
}

// Variant describes the tables, columns and labels of one application variant.
type Variant struct {
	Name         VariantName `json:"name"`
	Title        string      `json:"title"`
	OrgNoun      string      `json:"organization_noun"`
	MeasureLabel string      `json:"measure_label"`
	RecordTable  string      `json:"record_table"`
	MappingTable string      `json:"mapping_table"`
	Columns      Columns     `json:"columns"`
}

// Column returns the physical column name for a logical field.
func (v Variant) Column(f Field) string {
	switch f {
	case FieldOrganization:
		return v.Columns.Organization
	case FieldProgram:
		return v.Columns.Program
	case FieldProduct:
		return v.Columns.Product
	case FieldMeasure:
		return v.Columns.Measure
	case FieldActive:
		return v.Columns.Active
	case FieldUpdatedLast:
		return v.Columns.UpdatedLast
	case FieldUsername:
		return v.Columns.Username
	default:
		return ""
	}
}

// StepLabels returns the four selection step labels shown above the form.
func (v Variant) StepLabels() [4]string {
	return [4]string{
		fmt.Sprintf("Step 1 of 4: Select %s", v.OrgNoun),
		"Step 2 of 4: Select Program",
		"Step 3 of 4: Select Products",
		fmt.Sprintf("Step 4 of 4: Enter %s", v.MeasureLabel),
	}
}

// Validate checks that all table and column identifiers are safe to splice
// into SQL text.
func (v Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variant name required")
	}
	idents := map[string]string{
		"record_table":  v.RecordTable,
		"mapping_table": v.MappingTable,
	}
	for _, f := range Fields {
		idents["column "+string(f)] = v.Column(f)
	}
	names := make([]string, 0, len(idents))
	for name := range idents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !ValidIdentifier(idents[name]) {
			return fmt.Errorf("variant %s: invalid %s %q", v.Name, name, idents[name])
		}
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)

// ValidIdentifier reports whether s is a plain, optionally schema-qualified SQL
// identifier (up to database.schema.table).
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func defaultColumns(orgColumn, measureColumn string) Columns {
	return Columns{
		Organization: orgColumn,
		Program:      "program_code",
		Product:      "product_code",
		Measure:      measureColumn,
		Active:       "is_active",
		UpdatedLast:  "updated_last",
		Username:     "username",
	}
}

// DefaultVariants returns the three built-in variants keyed by name.
func DefaultVariants() map[VariantName]Variant {
	return map[VariantName]Variant{
		VariantCommission: {
			Name:         VariantCommission,
			Title:        "Customer Commission Ratio",
			OrgNoun:      "company",
			MeasureLabel: "COMMISSION_AMOUNT",
			RecordTable:  "commissions",
			MappingTable: "customer_mapping",
			Columns:      defaultColumns("company_name", "commission_amount"),
		},
		VariantULR: {
			Name:         VariantULR,
			Title:        "Ultimate Loss Ratio Form Entry",
			OrgNoun:      "company",
			MeasureLabel: "ULR",
			RecordTable:  "ultimate_loss_ratios",
			MappingTable: "customer_mapping",
			Columns:      defaultColumns("company_name", "ulr"),
		},
		VariantProducerCommission: {
			Name:         VariantProducerCommission,
			Title:        "Producer Commission Ratio",
			OrgNoun:      "producer",
			MeasureLabel: "COMMISSION_AMOUNT",
			RecordTable:  "producer_commissions",
			MappingTable: "producer_mapping",
			Columns:      defaultColumns("producer_name", "commission_amount"),
		},
	}
}
