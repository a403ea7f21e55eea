package apistub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// Report fields by json names, like the real API does
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
}

type Struct any

// Error body in django rest framework manner
type detailResponse struct {
	Detail string `json:"detail"`
}

func renderJSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

// Render {"detail": "..."} with status
func renderDetail(w http.ResponseWriter, detail string, code int) {
	jsonWithStatus(w, detailResponse{Detail: detail}, code)
}

func renderDecodeError(w http.ResponseWriter, err error) {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		renderFieldErrors(w, map[string]string{typeErr.Field: "Tipo de dato inválido."})
		return
	}
	renderDetail(w, fmt.Sprintf("JSON parse error - %s", err.Error()), http.StatusBadRequest)
}

// Field errors are rendered as {"field": ["message"]}
func renderFieldErrors(w http.ResponseWriter, fields map[string]string) {
	response := make(map[string][]string, len(fields))
	for field, message := range fields {
		response[field] = []string{message}
	}
	jsonWithStatus(w, response, http.StatusBadRequest)
}

func renderValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))

	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "Este campo es requerido."
		case "max":
			message = fmt.Sprintf("Asegúrese de que este campo no tenga más de %s caracteres.", fieldError.Param())
		case "oneof":
			message = "Elija una opción válida."
		default:
			message = "Valor inválido."
		}

		fields[fieldError.Field()] = message
	}

	renderFieldErrors(w, fields)
}

// bindAndValidate decodes JSON request body into type T and validates it using struct tags
// Error response is already written when error is returned
func bindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil {
		renderDecodeError(w, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			renderValidationErrors(w, errs)
		} else {
			renderDetail(w, err.Error(), http.StatusBadRequest)
		}
		return value, err
	}

	return value, nil
}

// jsonWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
