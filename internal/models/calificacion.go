package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Calificacion states
// Reports count validated ones as VALIDADA, the review workflow marks them APROBADA
const (
	EstadoBorrador  = "BORRADOR"
	EstadoPendiente = "PENDIENTE"
	EstadoAprobada  = "APROBADA"
	EstadoValidada  = "VALIDADA"
	EstadoObservada = "OBSERVADA"
	EstadoRechazada = "RECHAZADA"
	EstadoHistorica = "HISTORICA"
)

// Allowed moves of the review workflow, keyed by current state
var califTransitions = map[string][]string{
	EstadoBorrador:  {EstadoPendiente},
	EstadoPendiente: {EstadoAprobada, EstadoObservada, EstadoRechazada},
	EstadoObservada: {EstadoBorrador, EstadoPendiente},
}

// CanTransition reports whether a calificacion in state from may move to state to
func CanTransition(from, to string) bool {
	return slices.Contains(califTransitions[from], to)
}

// Outcomes a reviewer may give to a pending calificacion
var Resolutions = []string{EstadoAprobada, EstadoObservada, EstadoRechazada}

// Calificacion is a tax qualification built from a broker certificate
type Calificacion struct {
	ID              string          `json:"_id"`
	UserID          int64           `json:"usuario_id,omitempty"`
	RegistroID      int64           `json:"registro_id,omitempty"`
	RUT             string          `json:"rut"`
	CertificateType string          `json:"tipo_certificado"`
	Period          string          `json:"periodo"`
	Amount          decimal.Decimal `json:"monto"`
	State           string          `json:"estado"`
	Comment         string          `json:"comentario,omitempty"`
	CreatedAt       time.Time       `json:"fecha_creacion,omitzero"`
	UpdatedAt       time.Time       `json:"fecha_actualizacion,omitzero"`

	// Filled only in the validation inbox
	Documents []CalificacionDocument `json:"documentos,omitempty"`
}

type CalificacionDocument struct {
	ID       string           `json:"_id"`
	Metadata DocumentMetadata `json:"metadata"`
}

type DocumentMetadata struct {
	FileName string `json:"filename,omitempty"`
}

// Name shown for the document, id when the file name is unknown
func (d CalificacionDocument) Name() string {
	if d.Metadata.FileName != "" {
		return d.Metadata.FileName
	}
	return d.ID
}

// Page of calificaciones, the API wraps lists with their total
type CalificacionList struct {
	Total          int            `json:"total"`
	Calificaciones []Calificacion `json:"calificaciones"`
}

// Optional filters of the broker dashboard, empty fields are not sent
type CalificacionFilter struct {
	State           string `json:"estado" validate:"omitempty,oneof=BORRADOR PENDIENTE OBSERVADA APROBADA RECHAZADA"`
	Period          string `json:"periodo"`
	CertificateType string `json:"tipo_certificado"`
}

// Payload to create a calificacion, it starts as BORRADOR
type CalificacionInput struct {
	RegistroID       int64           `json:"registro_id" validate:"required,min=1"`
	CertificateType  string          `json:"tipo_certificado" validate:"required"`
	RUT              string          `json:"rut" validate:"required,rut"`
	Period           string          `json:"periodo" validate:"required"`
	Amount           decimal.Decimal `json:"monto"`
	Comment          string          `json:"comentario,omitempty"`
	RequestAuditoria bool            `json:"solicitar_auditoria,omitempty"`
}

type CalificacionCreated struct {
	Detail         string `json:"detail"`
	ID             string `json:"id"`
	State          string `json:"estado"`
	AuditRequested bool   `json:"auditoria_solicitada"`
}

// Answer of a state change
type CalificacionStateChange struct {
	Detail string `json:"detail"`
	State  string `json:"estado"`
}

// Broker dashboard counters
type CalificacionStats struct {
	ByState     map[string]int  `json:"por_estado"`
	Total       int             `json:"total"`
	TotalAmount decimal.Decimal `json:"monto_total"`
}

type CalificacionStatsResponse struct {
	Username string            `json:"usuario"`
	Stats    CalificacionStats `json:"estadisticas"`
}
