// Package validate checks extracted event fields before a record is accepted.
package validate

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
)

// Validator runs the date and address checks a schema calls for.
type Validator struct {
	Dates *DateValidator
}

// New returns a Validator that interprets dates in the given location.
func New(dates *DateValidator) *Validator {
	return &Validator{Dates: dates}
}

// Validate checks fields against schema. Datetime fields are rewritten in
// place on success.
func (v *Validator) Validate(fields []string, schema *model.FieldSchema) error {
	if err := v.Dates.Check(fields, schema.DatetimeIndexes()); err != nil {
		return err
	}
	if i := schema.AddressIndex(); i >= 0 {
		if i >= len(fields) {
			return resilience.Tag(resilience.KindAddress, eris.Errorf("validate: no address field at %d", i))
		}
		return CheckAddress(fields[i])
	}
	return nil
}
