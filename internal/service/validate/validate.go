package validate

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Func checks a single field value
// nil means the value is valid, otherwise the error carries the user facing message
type Func func(value string) error

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	rutRe   = regexp.MustCompile(`^\d{1,2}\.\d{3}\.\d{3}-[\dkK]$`)
	phoneRe = regexp.MustCompile(`^0?[1-9]\d{1,8}$`)
	mfaRe   = regexp.MustCompile(`^\d{6}$`)

	errRequired = errors.New("Este campo es requerido")
)

// Layouts accepted by Date
var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04",
	time.DateTime,
	"02-01-2006",
}

func Email(value string) error {
	if value == "" {
		return errors.New("El email es requerido")
	}
	if !emailRe.MatchString(value) {
		return errors.New("Email inválido")
	}
	return nil
}

// RUT checks chilean tax id in the dotted XX.XXX.XXX-X form
func RUT(value string) error {
	if value == "" {
		return errors.New("El RUT es requerido")
	}
	if !rutRe.MatchString(value) {
		return errors.New("RUT debe ser formato: XX.XXX.XXX-X")
	}
	return nil
}

// RUTSimple accepts any formatting as long as at least 8 significant characters remain
func RUTSimple(value string) error {
	if value == "" {
		return errors.New("El RUT es requerido")
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == 'k' || r == 'K' {
			return r
		}
		return -1
	}, value)
	if len(cleaned) < 8 {
		return errors.New("RUT inválido (mínimo 8 dígitos)")
	}
	return nil
}

// Phone strips everything but digits before matching
func Phone(value string) error {
	if value == "" {
		return errors.New("El teléfono es requerido")
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
	if !phoneRe.MatchString(digits) {
		return errors.New("Teléfono inválido")
	}
	return nil
}

func Password(value string) error {
	switch {
	case value == "":
		return errors.New("La contraseña es requerida")
	case utf8.RuneCountInString(value) < 8:
		return errors.New("Mínimo 8 caracteres")
	case !strings.ContainsFunc(value, func(r rune) bool { return r >= 'A' && r <= 'Z' }):
		return errors.New("Debe contener mayúsculas")
	case !strings.ContainsFunc(value, func(r rune) bool { return r >= '0' && r <= '9' }):
		return errors.New("Debe contener números")
	}
	return nil
}

func NotEmpty(value string) error {
	if strings.TrimSpace(value) == "" {
		return errRequired
	}
	return nil
}

// MFACode checks one time code of the second login step
func MFACode(value string) error {
	if value == "" {
		return errors.New("El código es requerido")
	}
	if !mfaRe.MatchString(value) {
		return errors.New("El código debe tener 6 dígitos")
	}
	return nil
}

// MinLength rejects empty values too
func MinLength(min int) Func {
	return func(value string) error {
		if value == "" || utf8.RuneCountInString(value) < min {
			return fmt.Errorf("Mínimo %d caracteres", min)
		}
		return nil
	}
}

func MaxLength(max int) Func {
	return func(value string) error {
		if utf8.RuneCountInString(value) > max {
			return fmt.Errorf("Máximo %d caracteres", max)
		}
		return nil
	}
}

func Number(value string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
		return errors.New("Debe ser un número")
	}
	return nil
}

func PositiveNumber(value string) error {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return errors.New("Debe ser un número")
	}
	if n <= 0 {
		return errors.New("Debe ser un número positivo")
	}
	return nil
}

func Date(value string) error {
	if value == "" {
		return errors.New("La fecha es requerida")
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return nil
		}
	}
	return errors.New("Fecha inválida")
}

// Match checks the value equals another field, e.g. password confirmation
func Match(other string, fieldName string) Func {
	return func(value string) error {
		if value != other {
			return fmt.Errorf("No coincide con %s", fieldName)
		}
		return nil
	}
}

// FileSize checks size in bytes against a limit in megabytes
func FileSize(size int64, maxMB int) error {
	if size <= 0 {
		return errors.New("El archivo es requerido")
	}
	if size > int64(maxMB)*1024*1024 {
		return fmt.Errorf("Máximo %dMB", maxMB)
	}
	return nil
}

// FileType checks content type against the allowed list
func FileType(contentType string, allowed []string) error {
	if contentType == "" {
		return errors.New("El archivo es requerido")
	}
	if !slices.Contains(allowed, contentType) {
		return fmt.Errorf("Tipos permitidos: %s", strings.Join(allowed, ", "))
	}
	return nil
}

// All runs validators in order and returns the first failure
func All(fns ...Func) Func {
	return func(value string) error {
		for _, fn := range fns {
			if err := fn(value); err != nil {
				return err
			}
		}
		return nil
	}
}
