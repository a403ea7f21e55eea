package validate

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

// Errors maps field name (as in json tag) to user facing message
type Errors map[string]string

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, field := range slices.Sorted(maps.Keys(e)) {
		parts = append(parts, field+": "+e[field])
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Unwrap() error {
	return apperrors.ErrValidation
}

// Fields validates values against field validators
// Returns nil when everything is valid
func Fields(values map[string]string, rules map[string]Func) error {
	errs := Errors{}
	for field, fn := range rules {
		if err := fn(values[field]); err != nil {
			errs[field] = err.Error()
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

var validate = validator.New()

func init() {
	configureValidator(validate)
}

func configureValidator(v *validator.Validate) {
	v.RegisterTagNameFunc(useJSONTagNames)

	for tag, fn := range map[string]Func{
		"rut":            RUT,
		"phone":          Phone,
		"strongpassword": Password,
		"mfacode":        MFACode,
	} {
		_ = v.RegisterValidation(tag, fieldLevel(fn))
	}
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func fieldLevel(fn Func) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String()) == nil
	}
}

// Struct validates struct using `validate` tags
// Validation failures are returned as Errors, anything else as is
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	errs := make(Errors, len(verrs))
	for _, fe := range verrs {
		errs[fe.Field()] = message(fe)
	}
	return errs
}

func message(fe validator.FieldError) string {
	value := fmt.Sprint(fe.Value())

	switch fe.Tag() {
	case "required":
		return errRequired.Error()
	case "min":
		return fmt.Sprintf("Mínimo %s caracteres", fe.Param())
	case "max":
		return fmt.Sprintf("Máximo %s caracteres", fe.Param())
	case "email":
		return "Email inválido"
	case "oneof":
		return fmt.Sprintf("Valor inválido, permitidos: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "rut":
		return RUT(value).Error()
	case "phone":
		return Phone(value).Error()
	case "strongpassword":
		return Password(value).Error()
	case "mfacode":
		return MFACode(value).Error()
	default:
		return "Valor inválido"
	}
}
