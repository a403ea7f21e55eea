package apistub

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nkiryanov/nuamclient/internal/models"
)

// Upload form is read in memory up to this size
const maxUploadMemory = 32 << 20

type loginRequest struct {
	Step      int    `json:"step" validate:"required,oneof=1 2"`
	Username  string `json:"username" validate:"required_if=Step 1"`
	Password  string `json:"password" validate:"required_if=Step 1"`
	SessionID string `json:"session_id" validate:"required_if=Step 2"`
	Code      string `json:"codigo" validate:"required_if=Step 2"`
}

type credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

func (s *Server) handleLoginMFA(w http.ResponseWriter, r *http.Request) {
	req, err := bindAndValidate[loginRequest](w, r)
	if err != nil {
		return
	}

	if req.Step == 1 {
		user, ok := s.checkPassword(req.Username, req.Password)
		if !ok {
			renderDetail(w, "Credenciales inválidas", http.StatusUnauthorized)
			return
		}

		if user.MFACode == "" {
			s.renderLogin(w, user)
			return
		}

		sessionID := uuid.NewString()
		s.mu.Lock()
		s.mfaSessions[sessionID] = user.ID
		s.mu.Unlock()

		renderJSON(w, models.LoginResult{MFARequired: true, SessionID: sessionID})
		return
	}

	s.mu.Lock()
	userID, ok := s.mfaSessions[req.SessionID]
	s.mu.Unlock()
	if !ok {
		renderDetail(w, "Sesión inválida o expirada", http.StatusBadRequest)
		return
	}

	// Wrong code keeps the session
	user, ok := s.user(userID)
	if !ok || user.MFACode != req.Code {
		renderDetail(w, "Código inválido", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	delete(s.mfaSessions, req.SessionID)
	s.mu.Unlock()

	s.renderLogin(w, user)
}

func (s *Server) renderLogin(w http.ResponseWriter, u User) {
	access, refresh, err := s.tokens.GeneratePair(&u)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusInternalServerError)
		return
	}

	renderJSON(w, models.LoginResult{
		Access:  access,
		Refresh: refresh,
		User:    &models.LoginUser{ID: u.ID, Username: u.Username, Role: models.Role(u.Role)},
	})
}

func (s *Server) handleObtainToken(w http.ResponseWriter, r *http.Request) {
	req, err := bindAndValidate[credentials](w, r)
	if err != nil {
		return
	}

	user, ok := s.checkPassword(req.Username, req.Password)
	if !ok {
		renderDetail(w, "No active account found with the given credentials", http.StatusUnauthorized)
		return
	}

	access, refresh, err := s.tokens.GeneratePair(&user)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusInternalServerError)
		return
	}
	renderJSON(w, models.TokenPair{Access: access, Refresh: refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, err := bindAndValidate[refreshRequest](w, r)
	if err != nil {
		return
	}

	userID, err := s.tokens.UseRefresh(req.Refresh)
	if err != nil {
		renderDetail(w, "Token is invalid or expired", http.StatusUnauthorized)
		return
	}
	user, ok := s.user(userID)
	if !ok {
		renderDetail(w, "Token is invalid or expired", http.StatusUnauthorized)
		return
	}

	if !s.rotateRefresh {
		access, err := s.tokens.GenerateAccess(&user)
		if err != nil {
			renderDetail(w, err.Error(), http.StatusInternalServerError)
			return
		}
		renderJSON(w, map[string]string{"access": access})
		return
	}

	s.tokens.RevokeRefresh(req.Refresh)
	access, refresh, err := s.tokens.GeneratePair(&user)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusInternalServerError)
		return
	}
	renderJSON(w, models.TokenPair{Access: access, Refresh: refresh})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	req, err := bindAndValidate[refreshRequest](w, r)
	if err != nil {
		return
	}

	s.tokens.RevokeRefresh(req.Refresh)
	w.WriteHeader(http.StatusResetContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	renderJSON(w, user.Profile())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}

	s.mu.Lock()
	records := s.audit
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	page := models.AuditPage{Count: len(s.audit), Results: append([]models.AuditRecord{}, records...)}
	s.mu.Unlock()

	renderJSON(w, page)
}

func (s *Server) handleCalificacionesReport(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "dias", 30)
	if !ok {
		return
	}

	s.mu.Lock()
	report := s.califReport
	s.mu.Unlock()

	report.Summary.PeriodDays = days
	renderJSON(w, report)
}

func (s *Server) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "dias", 30)
	if !ok {
		return
	}

	s.mu.Lock()
	report := s.auditReport
	s.mu.Unlock()

	report.Summary.PeriodDays = days
	renderJSON(w, report)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		renderDetail(w, "Formulario inválido", http.StatusBadRequest)
		return
	}

	docType := r.FormValue("tipo_documento")
	if docType == "" {
		renderFieldErrors(w, map[string]string{"tipo_documento": "Este campo es requerido."})
		return
	}

	file, header, err := r.FormFile("archivo")
	if err != nil {
		renderFieldErrors(w, map[string]string{"archivo": "No se envió ningún archivo."})
		return
	}
	defer file.Close() // nolint:errcheck

	content, err := io.ReadAll(file)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, _ := userFromContext(r.Context())

	s.mu.Lock()
	s.nextUploadID++
	id := s.nextUploadID
	s.uploads = append(s.uploads, ReceivedUpload{
		DocumentType: docType,
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Content:      content,
		Username:     user.Username,
	})
	s.mu.Unlock()

	jsonWithStatus(w, models.UploadResult{
		Detail:   "Archivo cargado correctamente",
		ID:       id,
		FileName: header.Filename,
	}, http.StatusCreated)
}

func (s *Server) checkPassword(username, password string) (User, bool) {
	user, ok := s.userByName(username)
	if !ok {
		return User{}, false
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return User{}, false
	}
	return user, true
}

// Reads positive int query parameter, renders 400 if it is malformed
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		renderFieldErrors(w, map[string]string{name: "Debe ser un número positivo."})
		return 0, false
	}
	return n, true
}

// Parses {id} path value, renders 404 if it is not a number
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderDetail(w, "No encontrado.", http.StatusNotFound)
		return 0, false
	}
	return id, true
}
