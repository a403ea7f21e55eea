package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      Func
		value   string
		wantErr string
	}{
		{"email ok", Email, "ana@nuam.cl", ""},
		{"email empty", Email, "", "El email es requerido"},
		{"email no domain", Email, "ana@nuam", "Email inválido"},
		{"email spaces", Email, "ana @nuam.cl", "Email inválido"},

		{"rut ok", RUT, "12.345.678-9", ""},
		{"rut ok with k", RUT, "9.876.543-K", ""},
		{"rut verifier digit not computed", RUT, "11.111.111-2", ""},
		{"rut empty", RUT, "", "El RUT es requerido"},
		{"rut without dots", RUT, "12345678-9", "RUT debe ser formato: XX.XXX.XXX-X"},

		{"rut simple ok", RUTSimple, "12345678-9", ""},
		{"rut simple short", RUTSimple, "1.234-5", "RUT inválido (mínimo 8 dígitos)"},

		{"phone ok", Phone, "912345678", ""},
		{"phone ok formatted", Phone, "9 1234-5678", ""},
		{"phone leading zero ok", Phone, "0221234567", ""},
		{"phone empty", Phone, "", "El teléfono es requerido"},
		{"phone too long", Phone, "+56 9 1234 5678", "Teléfono inválido"},

		{"password ok", Password, "Secreto123", ""},
		{"password empty", Password, "", "La contraseña es requerida"},
		{"password short", Password, "Ab1", "Mínimo 8 caracteres"},
		{"password no upper", Password, "secreto123", "Debe contener mayúsculas"},
		{"password no digit", Password, "SecretoLargo", "Debe contener números"},

		{"not empty ok", NotEmpty, "x", ""},
		{"not empty blank", NotEmpty, "   ", "Este campo es requerido"},

		{"mfa ok", MFACode, "123456", ""},
		{"mfa letters", MFACode, "12a456", "El código debe tener 6 dígitos"},

		{"min length ok", MinLength(3), "abc", ""},
		{"min length empty", MinLength(3), "", "Mínimo 3 caracteres"},
		{"max length ok", MaxLength(3), "abc", ""},
		{"max length long", MaxLength(3), "abcd", "Máximo 3 caracteres"},
		{"max length counts runes", MaxLength(3), "ñññ", ""},

		{"number ok", Number, "10.5", ""},
		{"number bad", Number, "diez", "Debe ser un número"},
		{"positive ok", PositiveNumber, "1", ""},
		{"positive zero", PositiveNumber, "0", "Debe ser un número positivo"},
		{"positive nan", PositiveNumber, "", "Debe ser un número"},

		{"date ok", Date, "2024-03-01", ""},
		{"date rfc3339", Date, "2024-03-01T10:00:00Z", ""},
		{"date empty", Date, "", "La fecha es requerida"},
		{"date bad", Date, "2024-13-45", "Fecha inválida"},

		{"match ok", Match("abc", "contraseña"), "abc", ""},
		{"match bad", Match("abc", "contraseña"), "abd", "No coincide con contraseña"},

		{"all stops on first", All(NotEmpty, MinLength(5)), "", "Este campo es requerido"},
		{"all passes", All(NotEmpty, MinLength(2)), "ok", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.value)

			if tt.wantErr == "" {
				require.NoError(t, err, "value %q should be valid", tt.value)
				return
			}
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestFileValidators(t *testing.T) {
	allowed := []string{"application/pdf", "text/csv"}

	require.NoError(t, FileSize(1024, 1))
	require.EqualError(t, FileSize(0, 1), "El archivo es requerido")
	require.EqualError(t, FileSize(2*1024*1024, 1), "Máximo 1MB")

	require.NoError(t, FileType("text/csv", allowed))
	require.EqualError(t, FileType("", allowed), "El archivo es requerido")
	require.EqualError(t, FileType("image/png", allowed), "Tipos permitidos: application/pdf, text/csv")
}

func TestFields(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := Fields(
			map[string]string{"email": "ana@nuam.cl", "password": "Secreto123"},
			map[string]Func{"email": Email, "password": Password},
		)

		require.NoError(t, err)
	})

	t.Run("collects every failure", func(t *testing.T) {
		err := Fields(
			map[string]string{"email": "bad"},
			map[string]Func{"email": Email, "password": Password},
		)

		var errs Errors
		require.ErrorAs(t, err, &errs)
		require.Equal(t, Errors{
			"email":    "Email inválido",
			"password": "La contraseña es requerida",
		}, errs)
		require.ErrorIs(t, err, apperrors.ErrValidation)
		require.Equal(t, "email: Email inválido; password: La contraseña es requerida", err.Error())
	})
}

func TestStruct(t *testing.T) {
	type form struct {
		Name     string `json:"nombre" validate:"required,max=5"`
		RUT      string `json:"rut" validate:"omitempty,rut"`
		Phone    string `json:"telefono" validate:"omitempty,phone"`
		Password string `json:"password" validate:"omitempty,strongpassword"`
		Code     string `json:"codigo" validate:"omitempty,mfacode"`
		State    string `json:"estado" validate:"omitempty,oneof=A B"`
	}

	t.Run("valid", func(t *testing.T) {
		err := Struct(form{Name: "regla", RUT: "12.345.678-9", Phone: "912345678", Password: "Secreto123", Code: "123456", State: "A"})

		require.NoError(t, err)
	})

	t.Run("uses json names and spanish messages", func(t *testing.T) {
		err := Struct(form{Name: "", RUT: "123", Phone: "abc", Password: "abc", Code: "12", State: "C"})

		var errs Errors
		require.True(t, errors.As(err, &errs), "should return validation errors, got %v", err)
		require.Equal(t, Errors{
			"nombre":   "Este campo es requerido",
			"rut":      "RUT debe ser formato: XX.XXX.XXX-X",
			"telefono": "Teléfono inválido",
			"password": "Mínimo 8 caracteres",
			"codigo":   "El código debe tener 6 dígitos",
			"estado":   "Valor inválido, permitidos: A, B",
		}, errs)
	})

	t.Run("max length", func(t *testing.T) {
		err := Struct(form{Name: "demasiado largo"})

		require.EqualError(t, err, "nombre: Máximo 5 caracteres")
	})
}
