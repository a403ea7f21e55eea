package models

import "time"

// Rule states
const (
	RuleActive     = "ACTIVA"
	RuleInactive   = "INACTIVA"
	RuleDeprecated = "DEPRECADA"
	RuleInReview   = "REVISION"
)

// Business rule (regla de negocio)
// Condition and Action are plain text, the client never evaluates them
type Rule struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nombre"`
	Description string    `json:"descripcion,omitempty"`
	Condition   string    `json:"condicion,omitempty"`
	Action      string    `json:"accion,omitempty"`
	Version     int       `json:"version"`
	State       string    `json:"estado"`
	CreatedBy   string    `json:"creado_por,omitempty"`
	CreatedAt   time.Time `json:"fecha_creacion,omitzero"`
}

// Payload for rule create and update
type RuleInput struct {
	Name        string `json:"nombre" validate:"required,max=150"`
	Description string `json:"descripcion" validate:"required"`
	Condition   string `json:"condicion" validate:"required"`
	Action      string `json:"accion" validate:"required"`
	State       string `json:"estado,omitempty" validate:"omitempty,oneof=ACTIVA INACTIVA DEPRECADA REVISION"`
}

type RuleCreated struct {
	Detail string `json:"detail"`
	ID     int64  `json:"id"`
}

type RuleVersion struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nombre"`
	Description string    `json:"descripcion"`
	Condition   string    `json:"condicion"`
	Action      string    `json:"accion"`
	Version     int       `json:"version"`
	State       string    `json:"estado"`
	ModifiedBy  string    `json:"modificado_por"`
	SnapshotAt  time.Time `json:"fecha_snapshot"`
	Comment     string    `json:"comentario"`
}

type RuleHistory struct {
	RuleID         int64         `json:"regla_id"`
	CurrentName    string        `json:"nombre_actual"`
	CurrentVersion int           `json:"version_actual"`
	History        []RuleVersion `json:"historial"`
}

type RollbackResult struct {
	Detail     string `json:"detail"`
	NewVersion int    `json:"nueva_version"`
	Name       string `json:"nombre"`
}

type RuleDiff struct {
	RuleID   int64       `json:"regla_id"`
	Version1 RuleVersion `json:"version_1"`
	Version2 RuleVersion `json:"version_2"`
	Changes  RuleChanges `json:"cambios"`
}

type RuleChanges struct {
	Name        bool `json:"nombre"`
	Description bool `json:"descripcion"`
	Condition   bool `json:"condicion"`
	Action      bool `json:"accion"`
	State       bool `json:"estado"`
}

// Names of changed fields in the API naming
func (c RuleChanges) Fields() []string {
	var fields []string
	for _, f := range []struct {
		name    string
		changed bool
	}{
		{"nombre", c.Name},
		{"descripcion", c.Description},
		{"condicion", c.Condition},
		{"accion", c.Action},
		{"estado", c.State},
	} {
		if f.changed {
			fields = append(fields, f.name)
		}
	}
	return fields
}
