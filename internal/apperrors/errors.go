package apperrors

import (
	"errors"
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrInvalidMFACode = errors.New("invalid authentication code")
	ErrMFARequired    = errors.New("second authentication factor required")

	ErrNetwork        = errors.New("network error")
	ErrServerRejected = errors.New("server rejected request")
	ErrValidation     = errors.New("validation failed")

	ErrKeyNotFound        = errors.New("key not found")
	ErrStorageNotMigrated = errors.New("storage schema is not migrated")

	ErrRuleNotFound         = errors.New("rule not found")
	ErrCalificacionNotFound = errors.New("calificacion not found")
	ErrUnsupportedFileType  = errors.New("unsupported file type")
	ErrFileTooLarge         = errors.New("file is too large")
	ErrForbiddenRole        = errors.New("operation is not allowed for the current role")
)
