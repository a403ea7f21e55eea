package apistub

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/nuamclient/internal/models"
)

const (
	PathCalifCorredor  = "/api/calificaciones-corredor/"
	PathCalifStats     = "/api/calificaciones-corredor/estadisticas/"
	PathCalifAnalista  = "/api/calificaciones-analista/"
	PathCalifPendiente = "/api/calificaciones-pendientes/"
	PathRegister       = "/api/registro/"

	// Analyst list is capped like the real API does
	analystListLimit = 100

	// Accounts created per server, then 429
	registerLimit = 3
)

type califState struct {
	calif models.Calificacion

	// Transition log, oldest first
	history []Transition
}

// Transition is one state change of a calificacion
type Transition struct {
	State   string
	By      string
	Comment string
}

type stateRequest struct {
	State   string `json:"estado"`
	Comment string `json:"comentario"`
}

func (s *Server) califRoutes(mux *http.ServeMux, withAuth func(http.Handler) http.Handler) {
	route := func(h http.HandlerFunc, roles ...models.Role) http.Handler {
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			names = append(names, string(r))
		}
		return chain(h, withAuth, s.requireRole(names...))
	}

	var (
		broker   = []models.Role{models.RoleCorredor, models.RoleTI}
		anyRole  = []models.Role{models.RoleCorredor, models.RoleAnalista, models.RoleAuditor, models.RoleTI}
		analyst  = []models.Role{models.RoleAnalista, models.RoleAuditor, models.RoleTI}
		senders  = []models.Role{models.RoleAnalista, models.RoleTI}
		auditors = []models.Role{models.RoleAuditor, models.RoleTI}
	)

	mux.Handle("GET "+PathCalifCorredor, route(s.handleMyCalificaciones, broker...))
	mux.Handle("POST "+PathCalifCorredor, route(s.handleCreateCalificacion, broker...))
	mux.Handle("GET "+PathCalifStats, route(s.handleCalificacionStats, broker...))
	mux.Handle("GET "+PathCalifCorredor+"{id}/", route(s.handleGetCalificacion, anyRole...))
	mux.Handle("PUT "+PathCalifCorredor+"{id}/", route(s.handleCorrectCalificacion, models.RoleCorredor))
	mux.Handle("GET "+PathCalifAnalista, route(s.handleAllCalificaciones, analyst...))
	mux.Handle("POST "+PathCalifAnalista+"{id}/enviar/", route(s.handleSendCalificacion, senders...))
	mux.Handle("GET "+PathCalifPendiente, route(s.handlePendingCalificaciones, auditors...))
	mux.Handle("POST "+PathCalifPendiente+"{id}/resolver/", route(s.handleResolveCalificacion, auditors...))

	mux.HandleFunc("POST "+PathRegister, s.handleRegister)
}

// AddCalificacion stores c as owned by user, BORRADOR when c has no state
func (s *Server) AddCalificacion(owner User, c models.Calificacion) models.Calificacion {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addCalificacionLocked(owner, c)
}

// Calificacion returns current state of the calificacion
func (s *Server) Calificacion(id string) (models.Calificacion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.califs[id]
	if !ok {
		return models.Calificacion{}, false
	}
	return st.calif, true
}

// Transitions returns state changes of the calificacion, oldest first
func (s *Server) Transitions(id string) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.califs[id]
	if !ok {
		return nil
	}
	return slices.Clone(st.history)
}

func (s *Server) addCalificacionLocked(owner User, c models.Calificacion) models.Calificacion {
	s.nextCalifID++
	now := time.Now().UTC()

	c.ID = fmt.Sprintf("%024x", s.nextCalifID)
	c.UserID = owner.ID
	if c.State == "" {
		c.State = models.EstadoBorrador
	}
	if c.CreatedAt.IsZero() {
		// Keeps creation order visible in newest first lists
		c.CreatedAt = now.Add(time.Duration(s.nextCalifID) * time.Millisecond)
	}
	c.UpdatedAt = c.CreatedAt

	s.califs[c.ID] = &califState{
		calif:   c,
		history: []Transition{{State: c.State, By: owner.Username}},
	}
	return c
}

// Appends audit record on top, the audit endpoint serves newest first
func (s *Server) recordAuditLocked(u User, action, description string) {
	record := models.AuditRecord{
		ID:          int64(len(s.audit) + 1),
		User:        u.Username,
		Role:        u.Role,
		Action:      action,
		Model:       "CalificacionMongo",
		Description: description,
		Date:        time.Now().UTC(),
	}
	s.audit = append([]models.AuditRecord{record}, s.audit...)
}

// Newest first, documents only when withDocs
func (s *Server) listCalificaciones(keep func(c models.Calificacion) bool, limit int, withDocs bool) models.CalificacionList {
	s.mu.Lock()
	out := make([]models.Calificacion, 0, len(s.califs))
	for _, st := range s.califs {
		if keep(st.calif) {
			out = append(out, st.calif)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Calificacion) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if !withDocs {
		for i := range out {
			out[i].Documents = nil
		}
	}

	return models.CalificacionList{Total: len(out), Calificaciones: out}
}

func (s *Server) handleMyCalificaciones(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	q := r.URL.Query()

	renderJSON(w, s.listCalificaciones(func(c models.Calificacion) bool {
		return c.UserID == user.ID &&
			matches(q.Get("estado"), c.State) &&
			matches(q.Get("periodo"), c.Period) &&
			matches(q.Get("tipo_certificado"), c.CertificateType)
	}, 0, false))
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

func (s *Server) handleCalificacionStats(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	stats := models.CalificacionStats{ByState: map[string]int{}, TotalAmount: decimal.Zero}
	s.mu.Lock()
	for _, st := range s.califs {
		if st.calif.UserID != user.ID {
			continue
		}
		stats.ByState[st.calif.State]++
		stats.Total++
		stats.TotalAmount = stats.TotalAmount.Add(st.calif.Amount)
	}
	s.mu.Unlock()

	renderJSON(w, models.CalificacionStatsResponse{Username: user.Username, Stats: stats})
}

func (s *Server) handleCreateCalificacion(w http.ResponseWriter, r *http.Request) {
	var in models.CalificacionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		renderDecodeError(w, err)
		return
	}
	if in.RegistroID == 0 {
		renderDetail(w, "registro_id es obligatorio", http.StatusBadRequest)
		return
	}
	if in.CertificateType == "" || in.RUT == "" || in.Period == "" {
		renderDetail(w, "tipo_certificado, rut y periodo son obligatorios", http.StatusBadRequest)
		return
	}
	user, _ := userFromContext(r.Context())

	s.mu.Lock()
	c := s.addCalificacionLocked(user, models.Calificacion{
		RegistroID:      in.RegistroID,
		RUT:             in.RUT,
		CertificateType: in.CertificateType,
		Period:          in.Period,
		Amount:          in.Amount,
		Comment:         in.Comment,
	})
	s.recordAuditLocked(user, "CREATE", fmt.Sprintf("Corredor creó calificación %s para RUT %s", c.ID, c.RUT))
	if in.RequestAuditoria {
		s.recordAuditLocked(user, models.AuditActionRequested, fmt.Sprintf("Solicitud de auditoría para calificación %s - RUT: %s", c.ID, c.RUT))
	}
	s.mu.Unlock()

	jsonWithStatus(w, models.CalificacionCreated{
		Detail:         "Calificación creada exitosamente",
		ID:             c.ID,
		State:          c.State,
		AuditRequested: in.RequestAuditoria,
	}, http.StatusCreated)
}

// Brokers see only their own calificaciones, other roles see any
func (s *Server) handleGetCalificacion(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	s.withCalificacion(w, r, func(st *califState) {
		if user.Role == string(models.RoleCorredor) && st.calif.UserID != user.ID {
			renderDetail(w, "No tienes permiso para ver esta calificación", http.StatusForbidden)
			return
		}
		c := st.calif
		c.Documents = nil
		renderJSON(w, c)
	})
}

func (s *Server) handleCorrectCalificacion(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderDecodeError(w, err)
		return
	}
	user, _ := userFromContext(r.Context())

	s.withCalificacion(w, r, func(st *califState) {
		if st.calif.UserID != user.ID {
			renderDetail(w, "No tienes permiso para ver esta calificación", http.StatusForbidden)
			return
		}
		if !s.transitionLocked(w, st, models.EstadoBorrador, user, req.Comment) {
			return
		}
		s.recordAuditLocked(user, "UPDATE", fmt.Sprintf("Corrigió calificación %s", st.calif.ID))
		renderJSON(w, models.CalificacionStateChange{Detail: "Corrección enviada", State: st.calif.State})
	})
}

func (s *Server) handleAllCalificaciones(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("estado")

	renderJSON(w, s.listCalificaciones(func(c models.Calificacion) bool {
		return matches(state, c.State)
	}, analystListLimit, false))
}

func (s *Server) handleSendCalificacion(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderDecodeError(w, err)
			return
		}
	}
	if req.Comment == "" {
		req.Comment = "Envío a validación"
	}
	user, _ := userFromContext(r.Context())

	s.withCalificacion(w, r, func(st *califState) {
		if !s.transitionLocked(w, st, models.EstadoPendiente, user, req.Comment) {
			return
		}
		s.recordAuditLocked(user, "UPDATE", fmt.Sprintf("Envió calificación %s a validación", st.calif.ID))
		renderJSON(w, models.CalificacionStateChange{Detail: "Calificación enviada a validación", State: st.calif.State})
	})
}

func (s *Server) handlePendingCalificaciones(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, s.listCalificaciones(func(c models.Calificacion) bool {
		return c.State == models.EstadoPendiente
	}, 0, true))
}

func (s *Server) handleResolveCalificacion(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderDecodeError(w, err)
		return
	}
	if !slices.Contains(models.Resolutions, req.State) {
		renderDetail(w, "Estado no permitido", http.StatusBadRequest)
		return
	}
	user, _ := userFromContext(r.Context())

	s.withCalificacion(w, r, func(st *califState) {
		if !s.transitionLocked(w, st, req.State, user, req.Comment) {
			return
		}
		s.recordAuditLocked(user, "UPDATE", fmt.Sprintf("Resolución %s sobre calificación %s", req.State, st.calif.ID))
		renderJSON(w, models.CalificacionStateChange{Detail: "Calificación resuelta", State: st.calif.State})
	})
}

// transitionLocked moves st to state or renders 400 when the workflow forbids it
func (s *Server) transitionLocked(w http.ResponseWriter, st *califState, state string, by User, comment string) bool {
	from := st.calif.State
	if !models.CanTransition(from, state) {
		renderDetail(w, fmt.Sprintf("Transición %s -> %s no permitida", from, state), http.StatusBadRequest)
		return false
	}

	st.calif.State = state
	st.calif.UpdatedAt = time.Now().UTC()
	if comment != "" {
		st.calif.Comment = comment
	}
	st.history = append(st.history, Transition{State: state, By: by.Username, Comment: comment})
	return true
}

// withCalificacion runs fn on the calificacion from path under the server lock
func (s *Server) withCalificacion(w http.ResponseWriter, r *http.Request, fn func(st *califState)) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.califs[id]
	if !ok {
		renderDetail(w, "Calificación no encontrada", http.StatusNotFound)
		return
	}
	fn(st)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"rol"`
}

// Public sign up, accounts never get TI
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderDecodeError(w, err)
		return
	}

	fields := map[string]string{}
	for name, value := range map[string]string{"username": req.Username, "email": req.Email, "password": req.Password} {
		if value == "" {
			fields[name] = "Este campo es requerido."
		}
	}
	switch models.Role(req.Role) {
	case models.RoleCorredor, models.RoleAnalista, models.RoleAuditor:
	default:
		fields["rol"] = "Elija una opción válida."
	}
	if len(fields) > 0 {
		renderFieldErrors(w, fields)
		return
	}
	if _, taken := s.userByName(req.Username); taken {
		renderFieldErrors(w, map[string]string{"username": "Ya existe un usuario con este nombre."})
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		renderDetail(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.registrations >= registerLimit {
		s.mu.Unlock()
		renderDetail(w, "Solicitud fue regulada.", http.StatusTooManyRequests)
		return
	}
	s.registrations++
	s.nextUserID++
	u := User{
		ID:           s.nextUserID,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	}
	s.users[u.ID] = u
	s.mu.Unlock()

	jsonWithStatus(w, models.RegistrationResult{
		Detail:   "Usuario creado correctamente",
		ID:       u.ID,
		Username: u.Username,
	}, http.StatusCreated)
}
