package models

import "time"

const AuditActionRequested = "AUDIT_REQUESTED"

type AuditRecord struct {
	ID          int64     `json:"id"`
	User        string    `json:"usuario"`
	Role        string    `json:"rol"`
	Action      string    `json:"accion"`
	Model       string    `json:"modelo"`
	ObjectID    string    `json:"objeto_id"`
	Description string    `json:"descripcion"`
	Date        time.Time `json:"fecha"`
}

// Page of audit records, the API wraps them into "results"
type AuditPage struct {
	Count   int           `json:"count"`
	Results []AuditRecord `json:"results"`
}
