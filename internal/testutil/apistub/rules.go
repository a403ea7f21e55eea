package apistub

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/nkiryanov/nuamclient/internal/models"
)

type ruleState struct {
	rule models.Rule

	// Snapshot of every version, oldest first
	versions []models.RuleVersion
}

func (st *ruleState) snapshot(by string, comment string) {
	r := st.rule
	st.versions = append(st.versions, models.RuleVersion{
		ID:          int64(len(st.versions) + 1),
		Name:        r.Name,
		Description: r.Description,
		Condition:   r.Condition,
		Action:      r.Action,
		Version:     r.Version,
		State:       r.State,
		ModifiedBy:  by,
		SnapshotAt:  time.Now().UTC(),
		Comment:     comment,
	})
}

func (st *ruleState) version(v int) (models.RuleVersion, bool) {
	i := slices.IndexFunc(st.versions, func(rv models.RuleVersion) bool { return rv.Version == v })
	if i < 0 {
		return models.RuleVersion{}, false
	}
	return st.versions[i], true
}

type rollbackRequest struct {
	Version int    `json:"version" validate:"required,min=1"`
	Comment string `json:"comentario"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rules := make([]models.Rule, 0, len(s.rules))
	for _, st := range s.rules {
		rules = append(rules, st.rule)
	}
	s.mu.Unlock()

	slices.SortFunc(rules, func(a, b models.Rule) int { return int(a.ID - b.ID) })
	renderJSON(w, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	in, err := bindAndValidate[models.RuleInput](w, r)
	if err != nil {
		return
	}
	if in.State == "" {
		in.State = models.RuleActive
	}
	user, _ := userFromContext(r.Context())

	s.mu.Lock()
	s.nextRuleID++
	st := &ruleState{rule: models.Rule{
		ID:          s.nextRuleID,
		Name:        in.Name,
		Description: in.Description,
		Condition:   in.Condition,
		Action:      in.Action,
		Version:     1,
		State:       in.State,
		CreatedBy:   user.Username,
		CreatedAt:   time.Now().UTC(),
	}}
	st.snapshot(user.Username, "Creación")
	s.rules[st.rule.ID] = st
	s.mu.Unlock()

	jsonWithStatus(w, models.RuleCreated{Detail: "Regla creada correctamente", ID: st.rule.ID}, http.StatusCreated)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	s.withRule(w, r, func(st *ruleState) {
		renderJSON(w, st.rule)
	})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	in, err := bindAndValidate[models.RuleInput](w, r)
	if err != nil {
		return
	}
	user, _ := userFromContext(r.Context())

	s.withRule(w, r, func(st *ruleState) {
		st.rule.Name = in.Name
		st.rule.Description = in.Description
		st.rule.Condition = in.Condition
		st.rule.Action = in.Action
		if in.State != "" {
			st.rule.State = in.State
		}
		st.rule.Version++
		st.snapshot(user.Username, "Actualización")

		renderJSON(w, st.rule)
	})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	s.withRule(w, r, func(st *ruleState) {
		delete(s.rules, st.rule.ID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleRuleHistory(w http.ResponseWriter, r *http.Request) {
	s.withRule(w, r, func(st *ruleState) {
		history := slices.Clone(st.versions)
		slices.Reverse(history)

		renderJSON(w, models.RuleHistory{
			RuleID:         st.rule.ID,
			CurrentName:    st.rule.Name,
			CurrentVersion: st.rule.Version,
			History:        history,
		})
	})
}

func (s *Server) handleRollbackRule(w http.ResponseWriter, r *http.Request) {
	req, err := bindAndValidate[rollbackRequest](w, r)
	if err != nil {
		return
	}
	user, _ := userFromContext(r.Context())

	s.withRule(w, r, func(st *ruleState) {
		target, ok := st.version(req.Version)
		if !ok {
			renderDetail(w, fmt.Sprintf("Versión %d no encontrada", req.Version), http.StatusNotFound)
			return
		}

		st.rule.Name = target.Name
		st.rule.Description = target.Description
		st.rule.Condition = target.Condition
		st.rule.Action = target.Action
		st.rule.State = target.State
		st.rule.Version++

		comment := req.Comment
		if comment == "" {
			comment = fmt.Sprintf("Rollback a versión %d", req.Version)
		}
		st.snapshot(user.Username, comment)

		renderJSON(w, models.RollbackResult{
			Detail:     fmt.Sprintf("Regla restaurada a la versión %d", req.Version),
			NewVersion: st.rule.Version,
			Name:       st.rule.Name,
		})
	})
}

func (s *Server) handleCompareRule(w http.ResponseWriter, r *http.Request) {
	v1, ok := queryInt(w, r, "v1", 0)
	if !ok {
		return
	}
	v2, ok := queryInt(w, r, "v2", 0)
	if !ok {
		return
	}
	if v1 == 0 || v2 == 0 {
		renderDetail(w, "Debe indicar v1 y v2", http.StatusBadRequest)
		return
	}

	s.withRule(w, r, func(st *ruleState) {
		a, okA := st.version(v1)
		b, okB := st.version(v2)
		if !okA || !okB {
			renderDetail(w, "Versión no encontrada", http.StatusNotFound)
			return
		}

		renderJSON(w, models.RuleDiff{
			RuleID:   st.rule.ID,
			Version1: a,
			Version2: b,
			Changes: models.RuleChanges{
				Name:        a.Name != b.Name,
				Description: a.Description != b.Description,
				Condition:   a.Condition != b.Condition,
				Action:      a.Action != b.Action,
				State:       a.State != b.State,
			},
		})
	})
}

// withRule runs fn on the rule from path under the server lock
// Unknown rule is answered with 404
func (s *Server) withRule(w http.ResponseWriter, r *http.Request, fn func(st *ruleState)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rules[id]
	if !ok {
		renderDetail(w, "No encontrado.", http.StatusNotFound)
		return
	}
	fn(st)
}
