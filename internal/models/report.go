package models

import "github.com/shopspring/decimal"

type CalificacionesReport struct {
	Summary      CalificacionesSummary      `json:"resumen"`
	ByState      map[string]int             `json:"por_estado"`
	Distribution map[string]decimal.Decimal `json:"distribucion_porcentaje"`
	Metrics      CalificacionesMetrics      `json:"metricas"`
	TopCreators  []CreatorCount             `json:"top_creadores"`
}

type CalificacionesSummary struct {
	Total              int    `json:"total_calificaciones"`
	WithAuditRequested int    `json:"con_auditoria_solicitada"`
	PeriodDays         int    `json:"periodo_dias"`
	StartDate          string `json:"fecha_inicio"`
}

type CalificacionesMetrics struct {
	ValidationRate  decimal.Decimal `json:"tasa_validacion"`
	ObservationRate decimal.Decimal `json:"tasa_observacion"`
	RejectionRate   decimal.Decimal `json:"tasa_rechazo"`

	// nil when nothing was validated in the period
	AvgValidationHours *decimal.Decimal `json:"tiempo_validacion_promedio_horas"`
}

type CreatorCount struct {
	FirstName string `json:"creado_por__first_name"`
	Count     int    `json:"count"`
}

type AuditReport struct {
	Summary        AuditSummary   `json:"resumen"`
	ByAction       map[string]int `json:"por_accion"`
	ByUser         []UserCount    `json:"por_usuario"`
	ByModel        map[string]int `json:"por_modelo"`
	Trend7Days     []DayCount     `json:"tendencia_7dias"`
	RecentActivity []AuditRecord  `json:"actividad_reciente"`
}

type AuditSummary struct {
	Total                int    `json:"total_auditorias"`
	PendingAuditRequests int    `json:"solicitudes_auditoria_pendientes"`
	PeriodDays           int    `json:"periodo_dias"`
	StartDate            string `json:"fecha_inicio"`
}

type UserCount struct {
	Username string `json:"usuario__username"`
	Count    int    `json:"count"`
}

type DayCount struct {
	Date  string `json:"fecha"`
	Total int    `json:"total"`
}
