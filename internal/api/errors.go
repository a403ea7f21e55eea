package api

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	CodeAuthFailed      = "auth_failed"
	CodeNetwork         = "network"
	CodeServerRejected  = "server_rejected"
	CodeInvalidResponse = "invalid_response"
)

// Messages shown when the server gives nothing better
const (
	MessageConnection       = "Error de conexión"
	MessageBadCredentials   = "Credenciales incorrectas"
	MessageInvalidMFACode   = "Código de autenticación inválido"
	MessageSessionExpired   = "Sesión expirada, inicie sesión nuevamente"
	MessageInvalidResponse  = "Respuesta inválida del servidor"
	messageRejectedTemplate = "Error del servidor (%d)"
)

// Error of an API call
// Message is safe to show to the user, Err is the matching apperrors sentinel
type Error struct {
	Code       string
	StatusCode int
	Message    string

	// Field errors returned by the server validation, keyed by API field name
	Fields map[string]string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "code: %s", e.Code)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ", status: %d", e.StatusCode)
	}
	fmt.Fprintf(&b, ", message: %s", e.Message)
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		fmt.Fprintf(&b, ", %s: %s", field, e.Fields[field])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ", error: %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, status int, message string, err error) *Error {
	return &Error{
		Code:       code,
		StatusCode: status,
		Message:    message,
		Err:        err,
	}
}
