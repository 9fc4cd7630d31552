package stage

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every Validate method. validator.Validate caches
// struct metadata and is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("finite", validateFinite); err != nil {
		panic(fmt.Sprintf("register finite validator: %v", err))
	}
}

// validateFinite rejects NaN and infinities on float fields.
func validateFinite(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		v := f.Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return true
	}
}

// Validate checks the structural invariants of a stage record.
func (s Stage) Validate() error {
	if err := structProblems("stage "+s.ID.String(), s); err != nil {
		return err
	}
	if !s.Status.Valid() {
		return &ValidationError{Subject: "stage " + s.ID.String(), Problems: []string{fmt.Sprintf("status %s is not a lifecycle state", s.Status)}}
	}
	return nil
}

// Validate checks the structural invariants of a dependency record.
func (d Dependency) Validate() error {
	return structProblems("dependency "+d.ID.String(), d)
}

// Struct validates any tagged struct with the package validator and converts
// failures into a ValidationError.
func Struct(subject string, v any) error {
	return structProblems(subject, v)
}

func structProblems(subject string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", subject, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Subject: subject, Problems: problems}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	case "finite":
		return fmt.Sprintf("%s must be a finite number", fe.Field())
	case "gte", "lte", "max", "min":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}
