package core

import (
	"context"
	"fmt"
	"slices"

	"ratedesk/pkg/domain"
)

// Step describes one widget of the four-step selection cascade.
type Step struct {
	Number      int          `json:"number"`
	Label       string       `json:"label"`
	Field       domain.Field `json:"field"`
	Visible     bool         `json:"visible"`
	Multi       bool         `json:"multi,omitempty"`
	Options     []string     `json:"options,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
}

// Steps renders the cascade for the session's current selection. A step is
// visible once the previous one has a value; option lists come from the
// mapping table through the lookup cache.
func (s *Service) Steps(ctx context.Context, sess *Session) ([]Step, error) {
	v, err := s.Variant(sess.Variant)
	if err != nil {
		return nil, err
	}
	sel := sess.Selection
	labels := v.StepLabels()
	steps := []Step{
		{Number: 1, Label: labels[0], Field: domain.FieldOrganization, Visible: true},
		{Number: 2, Label: labels[1], Field: domain.FieldProgram, Visible: sel.Organization != ""},
		{Number: 3, Label: labels[2], Field: domain.FieldProduct, Visible: sel.Program != "", Multi: true},
		{Number: 4, Label: labels[3], Field: domain.FieldMeasure, Visible: len(sel.Products) > 0},
	}
	nouns := []string{v.OrgNoun, "program", "product"}
	for i := range steps[:3] {
		if !steps[i].Visible {
			continue
		}
		options, err := s.options(ctx, v, steps[i].Field, sel)
		if err != nil {
			return nil, err
		}
		steps[i].Options = options
		if len(options) == 0 {
			steps[i].Placeholder = fmt.Sprintf("No %ss available", nouns[i])
		}
	}
	return steps, nil
}

// options lists the cascade values for field. Programs are narrowed by
// organization and products by program.
func (s *Service) options(ctx context.Context, v domain.Variant, field domain.Field, sel Selection) ([]string, error) {
	switch field {
	case domain.FieldOrganization:
		return s.listDistinct(ctx, v, domain.FieldOrganization, nil)
	case domain.FieldProgram:
		return s.listDistinct(ctx, v, domain.FieldProgram, &domain.KeyFilter{Field: domain.FieldOrganization, Value: sel.Organization})
	case domain.FieldProduct:
		return s.listDistinct(ctx, v, domain.FieldProduct, &domain.KeyFilter{Field: domain.FieldProgram, Value: sel.Program})
	default:
		return nil, fmt.Errorf("no options for field %s", field)
	}
}

// UpdateSelection applies a partial change to the session's form after
// checking that each chosen value is offered by the cascade. A rejected
// update leaves the selection unchanged.
func (s *Service) UpdateSelection(ctx context.Context, sess *Session, update SelectionUpdate) (Selection, error) {
	v, err := s.Variant(sess.Variant)
	if err != nil {
		return Selection{}, err
	}
	next := sess.Selection.apply(update)
	if next.Measure < 0 {
		return sess.Selection, &domain.ValidationError{Field: "measure", Message: fmt.Sprintf("%s must be non-negative", v.MeasureLabel)}
	}
	if next.Organization != "" {
		if err := s.requireOption(ctx, v, domain.FieldOrganization, next, next.Organization); err != nil {
			return sess.Selection, err
		}
	}
	if next.Program != "" {
		if next.Organization == "" {
			return sess.Selection, &domain.ValidationError{Field: "program", Message: fmt.Sprintf("select a %s first", v.OrgNoun)}
		}
		if err := s.requireOption(ctx, v, domain.FieldProgram, next, next.Program); err != nil {
			return sess.Selection, err
		}
	}
	if len(next.Products) > 0 {
		if next.Program == "" {
			return sess.Selection, &domain.ValidationError{Field: "products", Message: "select a program first"}
		}
		for _, product := range next.Products {
			if err := s.requireOption(ctx, v, domain.FieldProduct, next, product); err != nil {
				return sess.Selection, err
			}
		}
	}
	sess.Selection = next
	return next, nil
}

func (s *Service) requireOption(ctx context.Context, v domain.Variant, field domain.Field, sel Selection, value string) error {
	options, err := s.options(ctx, v, field, sel)
	if err != nil {
		return err
	}
	if !slices.Contains(options, value) {
		return &domain.ValidationError{Field: string(field), Message: fmt.Sprintf("%q is not an available option", value)}
	}
	return nil
}

// ResetSelection discards the session's form.
func (s *Service) ResetSelection(sess *Session) Selection {
	sess.Reset()
	return sess.Selection
}
