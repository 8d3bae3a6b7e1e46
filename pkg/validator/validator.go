package validator

import (
	"errors"
	"fmt"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// Validator provides validation functionality
type Validator interface {
	Validate(obj interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	return &validator{v: playground.New(playground.WithRequiredStructEnabled())}
}

func (v *validator) Validate(obj interface{}) error {
	return humanize(v.v.Struct(obj))
}

// ValidateField checks a single value against validator tags, e.g.
// ValidateField("password", pw, "min=8", "max=72").
func (v *validator) ValidateField(field string, value interface{}, rules ...string) error {
	if err := v.v.Var(value, strings.Join(rules, ",")); err != nil {
		var verrs playground.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s %s", field, describe(verrs[0]))
		}
		return err
	}
	return nil
}

func humanize(err error) error {
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Field(), describe(fe)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	case "email":
		return "must be a valid email"
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "gtefield":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
