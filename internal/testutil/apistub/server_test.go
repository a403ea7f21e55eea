package apistub

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/models"
)

func do(t *testing.T, method, url, access string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

func TestServer_Login(t *testing.T) {
	srv := Start(t, Config{})
	srv.AddUser(t, "ana", "pwd", "TI", "", false)
	srv.AddUser(t, "bob", "pwd", "CORREDOR", "123456", false)

	t.Run("bad credentials", func(t *testing.T) {
		code, body := do(t, http.MethodPost, srv.URL+PathLoginMFA, "", map[string]any{"step": 1, "username": "ana", "password": "nope"})

		require.Equal(t, http.StatusUnauthorized, code)
		require.JSONEq(t, `{"detail":"Credenciales inválidas"}`, string(body))
	})

	t.Run("without mfa", func(t *testing.T) {
		code, body := do(t, http.MethodPost, srv.URL+PathLoginMFA, "", map[string]any{"step": 1, "username": "ana", "password": "pwd"})

		require.Equal(t, http.StatusOK, code)
		res := decode[models.LoginResult](t, body)
		require.False(t, res.MFARequired)
		require.NotEmpty(t, res.Access)
		require.NotEmpty(t, res.Refresh)
		require.Equal(t, models.RoleTI, res.User.Role)
	})

	t.Run("with mfa", func(t *testing.T) {
		code, body := do(t, http.MethodPost, srv.URL+PathLoginMFA, "", map[string]any{"step": 1, "username": "bob", "password": "pwd"})
		require.Equal(t, http.StatusOK, code)
		step1 := decode[models.LoginResult](t, body)
		require.True(t, step1.MFARequired)
		require.NotEmpty(t, step1.SessionID)
		require.Empty(t, step1.Access)

		code, _ = do(t, http.MethodPost, srv.URL+PathLoginMFA, "", map[string]any{"step": 2, "session_id": step1.SessionID, "codigo": "000000"})
		require.Equal(t, http.StatusUnauthorized, code)

		code, body = do(t, http.MethodPost, srv.URL+PathLoginMFA, "", map[string]any{"step": 2, "session_id": step1.SessionID, "codigo": "123456"})
		require.Equal(t, http.StatusOK, code, "wrong code must keep the session")
		step2 := decode[models.LoginResult](t, body)
		require.NotEmpty(t, step2.Access)

		code, _ = do(t, http.MethodPost, srv.URL+PathLoginMFA, "", map[string]any{"step": 2, "session_id": step1.SessionID, "codigo": "123456"})
		require.Equal(t, http.StatusBadRequest, code, "session is single use")
	})
}

func TestServer_Refresh(t *testing.T) {
	t.Run("without rotation", func(t *testing.T) {
		srv := Start(t, Config{})
		pair := srv.IssueTokens(t, srv.AddUser(t, "ana", "pwd", "TI", "", false))

		code, body := do(t, http.MethodPost, srv.URL+PathTokenRefresh, "", map[string]string{"refresh": pair.Refresh})

		require.Equal(t, http.StatusOK, code)
		got := decode[models.TokenPair](t, body)
		require.NotEmpty(t, got.Access)
		require.Empty(t, got.Refresh)
		require.Equal(t, 1, srv.Hits(PathTokenRefresh))
	})

	t.Run("with rotation", func(t *testing.T) {
		srv := Start(t, Config{RotateRefresh: true})
		pair := srv.IssueTokens(t, srv.AddUser(t, "ana", "pwd", "TI", "", false))

		code, body := do(t, http.MethodPost, srv.URL+PathTokenRefresh, "", map[string]string{"refresh": pair.Refresh})
		require.Equal(t, http.StatusOK, code)
		got := decode[models.TokenPair](t, body)
		require.NotEmpty(t, got.Refresh)
		require.NotEqual(t, pair.Refresh, got.Refresh)

		code, _ = do(t, http.MethodPost, srv.URL+PathTokenRefresh, "", map[string]string{"refresh": pair.Refresh})
		require.Equal(t, http.StatusUnauthorized, code, "used refresh token is blacklisted")
	})
}

func TestServer_RevokeAccessTokens(t *testing.T) {
	srv := Start(t, Config{})
	pair := srv.IssueTokens(t, srv.AddUser(t, "ana", "pwd", "AUDITOR", "", false))

	code, body := do(t, http.MethodGet, srv.URL+PathProfile, pair.Access, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ana", decode[models.Profile](t, body).Username)

	srv.RevokeAccessTokens()

	code, _ = do(t, http.MethodGet, srv.URL+PathProfile, pair.Access, nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestServer_Logout(t *testing.T) {
	srv := Start(t, Config{})
	pair := srv.IssueTokens(t, srv.AddUser(t, "ana", "pwd", "TI", "", false))

	code, _ := do(t, http.MethodPost, srv.URL+PathLogout, pair.Access, map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusResetContent, code)

	code, _ = do(t, http.MethodPost, srv.URL+PathTokenRefresh, "", map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestServer_Fail(t *testing.T) {
	srv := Start(t, Config{})
	pair := srv.IssueTokens(t, srv.AddUser(t, "ana", "pwd", "TI", "", false))
	srv.Fail(PathProfile, http.StatusServiceUnavailable, 2)

	for range 2 {
		code, _ := do(t, http.MethodGet, srv.URL+PathProfile, pair.Access, nil)
		require.Equal(t, http.StatusServiceUnavailable, code)
	}
	code, _ := do(t, http.MethodGet, srv.URL+PathProfile, pair.Access, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 3, srv.Hits(PathProfile))
}

func TestServer_RoleGate(t *testing.T) {
	srv := Start(t, Config{})
	corredor := srv.IssueTokens(t, srv.AddUser(t, "cor", "pwd", "CORREDOR", "", false))
	root := srv.IssueTokens(t, srv.AddUser(t, "root", "pwd", "", "", true))

	code, _ := do(t, http.MethodGet, srv.URL+PathRules, corredor.Access, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, _ = do(t, http.MethodGet, srv.URL+PathRules, root.Access, nil)
	require.Equal(t, http.StatusOK, code, "superuser is allowed everything")
}

func TestServer_AuditAndReports(t *testing.T) {
	srv := Start(t, Config{})
	pair := srv.IssueTokens(t, srv.AddUser(t, "aud", "pwd", "AUDITOR", "", false))
	srv.SetAudit(
		models.AuditRecord{ID: 1, Action: models.AuditActionRequested},
		models.AuditRecord{ID: 2, Action: "UPDATE"},
		models.AuditRecord{ID: 3, Action: "CREATE"},
	)
	srv.SetAuditReport(models.AuditReport{Summary: models.AuditSummary{Total: 3}})

	code, body := do(t, http.MethodGet, srv.URL+PathAudit+"?limit=2", pair.Access, nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[models.AuditPage](t, body)
	require.Equal(t, 3, page.Count)
	require.Len(t, page.Results, 2)

	code, body = do(t, http.MethodGet, srv.URL+PathReportAudit+"?dias=7", pair.Access, nil)
	require.Equal(t, http.StatusOK, code)
	report := decode[models.AuditReport](t, body)
	require.Equal(t, models.AuditSummary{Total: 3, PeriodDays: 7}, report.Summary)

	code, _ = do(t, http.MethodGet, srv.URL+PathReportCalif+"?dias=zero", pair.Access, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Rules(t *testing.T) {
	srv := Start(t, Config{})
	pair := srv.IssueTokens(t, srv.AddUser(t, "ti", "pwd", "TI", "", false))
	in := models.RuleInput{Name: "Factor", Description: "d", Condition: "monto > 0", Action: "aplicar"}

	code, body := do(t, http.MethodPost, srv.URL+PathRules, pair.Access, in)
	require.Equal(t, http.StatusCreated, code)
	id := decode[models.RuleCreated](t, body).ID
	rulePath := srv.URL + PathRules + "1/"
	require.EqualValues(t, 1, id)

	in.Condition = "monto > 100"
	code, _ = do(t, http.MethodPut, rulePath, pair.Access, in)
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, http.MethodGet, rulePath+"historial/", pair.Access, nil)
	require.Equal(t, http.StatusOK, code)
	history := decode[models.RuleHistory](t, body)
	require.Equal(t, 2, history.CurrentVersion)
	require.Len(t, history.History, 2)
	require.Equal(t, 2, history.History[0].Version, "newest first")

	code, body = do(t, http.MethodGet, rulePath+"comparar/?v1=1&v2=2", pair.Access, nil)
	require.Equal(t, http.StatusOK, code)
	diff := decode[models.RuleDiff](t, body)
	require.Equal(t, []string{"condicion"}, diff.Changes.Fields())

	code, body = do(t, http.MethodPost, rulePath+"rollback/", pair.Access, map[string]any{"version": 1, "comentario": "volver"})
	require.Equal(t, http.StatusOK, code)
	rollback := decode[models.RollbackResult](t, body)
	require.Equal(t, 3, rollback.NewVersion)
	rule, ok := srv.Rule(1)
	require.True(t, ok)
	require.Equal(t, "monto > 0", rule.Condition)

	code, _ = do(t, http.MethodPost, rulePath+"rollback/", pair.Access, map[string]any{"version": 9})
	require.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodDelete, rulePath, pair.Access, nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, http.MethodGet, rulePath, pair.Access, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestServer_Upload(t *testing.T) {
	srv := Start(t, Config{})
	pair := srv.IssueTokens(t, srv.AddUser(t, "cor", "pwd", "CORREDOR", "", false))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("tipo_documento", models.DocumentTypeCertificate))
	part, err := mw.CreateFormFile("archivo", "cert.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+PathUpload, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+pair.Access)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	require.Equal(t, "cert.csv", uploads[0].FileName)
	require.Equal(t, models.DocumentTypeCertificate, uploads[0].DocumentType)
	require.Equal(t, "a,b\n1,2\n", string(uploads[0].Content))
	require.Equal(t, "cor", uploads[0].Username)
}
