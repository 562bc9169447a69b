package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"ratedesk/pkg/domain"
)

// SubmitState is the position of the submission form in its lifecycle.
type SubmitState string

const (
	SubmitStateEmpty              SubmitState = "empty"
	SubmitStatePartial            SubmitState = "partially_filled"
	SubmitStateReady              SubmitState = "ready"
	SubmitStateSaved              SubmitState = "saved"
	SubmitStateDuplicateRejected  SubmitState = "duplicate_rejected"
	SubmitStateValidationRejected SubmitState = "validation_rejected"
)

// Username fallbacks when the request carries no identity.
const (
	DefaultSubmitUsername = "TEST_USER"
	DefaultEditUsername   = "Unknown"
)

// Submission is the validated form payload.
type Submission struct {
	Organization string   `json:"organization" validate:"required"`
	Program      string   `json:"program" validate:"required"`
	Products     []string `json:"products" validate:"required,min=1,dive,required"`
	Measure      float64  `json:"measure" validate:"gt=0"`
	Active       bool     `json:"active"`
}

var submissionValidate = newSubmissionValidator()

func newSubmissionValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Submission extracts the form payload from the selection.
func (s Selection) Submission() Submission {
	return Submission{
		Organization: s.Organization,
		Program:      s.Program,
		Products:     append([]string{}, s.Products...),
		Measure:      s.Measure,
		Active:       s.Active,
	}
}

// Validate reports the first missing or out-of-range field.
func (s Submission) Validate(v domain.Variant) error {
	err := submissionValidate.Struct(s)
	if err == nil {
		return nil
	}
	field := ""
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field = verrs[0].Field()
	}
	return &domain.ValidationError{
		Field:   field,
		Message: fmt.Sprintf("Please fill all fields and provide a valid %s.", measureNoun(v)),
	}
}

func measureNoun(v domain.Variant) string {
	label := strings.ReplaceAll(v.MeasureLabel, "_", " ")
	if label == strings.ToUpper(label) && !strings.Contains(label, " ") {
		return label
	}
	return strings.ToLower(label)
}

// Records expands the submission into one record per product.
func (s Submission) Records(username string, now Clock) []domain.Record {
	ts := now.Now().UTC()
	out := make([]domain.Record, 0, len(s.Products))
	for _, product := range s.Products {
		out = append(out, domain.Record{
			Organization: s.Organization,
			Program:      s.Program,
			Product:      product,
			Measure:      s.Measure,
			Active:       s.Active,
			UpdatedLast:  ts,
			Username:     username,
		})
	}
	return out
}

// SubmitOutcome reports what a submit did.
type SubmitOutcome struct {
	State      SubmitState         `json:"state"`
	Inserted   []domain.NaturalKey `json:"inserted"`
	Duplicates []string            `json:"duplicates"`
	Message    string              `json:"message"`
}

// Submit validates the session's selection and inserts one record per
// selected product whose key is absent. Saved and duplicate-only outcomes
// reset the form; validation and store failures leave it as entered.
func (s *Service) Submit(ctx context.Context, sess *Session, username string) (SubmitOutcome, error) {
	v, err := s.Variant(sess.Variant)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if username == "" {
		username = DefaultSubmitUsername
	}
	now := s.clock.Now()
	sub := sess.Selection.Submission()
	if err := sub.Validate(v); err != nil {
		var ve *domain.ValidationError
		msg := err.Error()
		if errors.As(err, &ve) {
			msg = ve.Message
		}
		sess.AddBanner(BannerError, msg, now)
		return SubmitOutcome{State: SubmitStateValidationRejected, Message: msg}, err
	}

	inserted, duplicates, err := s.insertIfAbsent(ctx, v, sub.Records(username, s.clock), username)
	if err != nil {
		msg := fmt.Sprintf("Failed to save data: %v", err)
		sess.AddBanner(BannerError, msg, now)
		return SubmitOutcome{State: sess.Selection.State(), Message: msg}, err
	}

	out := SubmitOutcome{Inserted: []domain.NaturalKey{}, Duplicates: []string{}}
	for _, r := range inserted {
		out.Inserted = append(out.Inserted, r.Key())
	}
	var messages []string
	if len(duplicates) > 0 {
		dup := &domain.DuplicateKeyError{Organization: sub.Organization, Program: sub.Program}
		for _, key := range duplicates {
			dup.Products = append(dup.Products, key.Product)
		}
		out.Duplicates = dup.Products
		sess.AddBanner(BannerError, dup.Error(), now)
		messages = append(messages, dup.Error())
	}
	if len(inserted) > 0 {
		out.State = SubmitStateSaved
		sess.AddBanner(BannerSuccess, "Data successfully saved.", now)
		messages = append([]string{"Data successfully saved."}, messages...)
	} else {
		out.State = SubmitStateDuplicateRejected
	}
	out.Message = strings.Join(messages, " ")
	sess.Reset()
	return out, nil
}
