package apistub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/models"
)

func TestRender_Detail(t *testing.T) {
	w := httptest.NewRecorder()

	renderDetail(w, "Credenciales inválidas", http.StatusUnauthorized)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"detail":"Credenciales inválidas"}`, w.Body.String())
}

func TestRender_BindAndValidate(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		expectedCode int
		expectedBody string
	}{
		{
			name:         "invalid json",
			body:         `not-json`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"detail":"JSON parse error - invalid character 'o' in literal null (expecting 'u')"}`,
		},
		{
			name:         "wrong field type",
			body:         `{"nombre": 12}`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"nombre":["Tipo de dato inválido."]}`,
		},
		{
			name:         "required fields",
			body:         `{"nombre":"Regla","descripcion":"d"}`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"condicion":["Este campo es requerido."],"accion":["Este campo es requerido."]}`,
		},
		{
			name:         "unknown state",
			body:         `{"nombre":"Regla","descripcion":"d","condicion":"c","accion":"a","estado":"BORRADA"}`,
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"estado":["Elija una opción válida."]}`,
		},
		{
			name:         "valid",
			body:         `{"nombre":"Regla","descripcion":"d","condicion":"c","accion":"a"}`,
			expectedCode: http.StatusOK,
			expectedBody: `{"nombre":"Regla","descripcion":"d","condicion":"c","accion":"a"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			in, err := bindAndValidate[models.RuleInput](w, r)
			if err == nil {
				renderJSON(w, in)
			}

			require.Equal(t, tt.expectedCode, w.Code)
			require.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}
