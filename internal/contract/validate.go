package contract

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so errors match what the caller sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RequestError describes the first field of a request that failed validation.
type RequestError struct {
	Field string
	Tag   string
	Param string
}

func (e *RequestError) Error() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", e.Field, e.Param)
	case "max":
		return fmt.Sprintf("%s must have at most %s entries", e.Field, e.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Field, e.Param)
	default:
		return fmt.Sprintf("%s failed %s", e.Field, e.Tag)
	}
}

// Validate checks a request or event against its struct tags.
// PRE: req is a struct or pointer to struct from this package
// POST: nil, or a *RequestError naming the first failing field
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		// dive errors report "messageIds[2]"; keep the whole path.
		if ns := fe.Namespace(); strings.Contains(ns, ".") {
			_, field, _ = strings.Cut(ns, ".")
		}
		return &RequestError{Field: field, Tag: fe.Tag(), Param: fe.Param()}
	}
	return err
}
