package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/nkiryanov/nuamclient/internal/api"
	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
)

const dateFormat = "2006-01-02 15:04"

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func printSession(out io.Writer, p models.Profile, home string) {
	fmt.Fprintf(out, "Sesión iniciada como %s (%s)\n", p.Username, p.EffectiveRole())
	fmt.Fprintf(out, "Inicio: %s\n", home)
}

func printProfile(out io.Writer, p models.Profile) {
	w := newTable(out)
	fmt.Fprintf(w, "Usuario:\t%s\n", p.Username)
	fmt.Fprintf(w, "Email:\t%s\n", p.Email)
	fmt.Fprintf(w, "Rol:\t%s\n", p.EffectiveRole())
	if p.IsSuperuser {
		fmt.Fprintf(w, "Superusuario:\tsí\n")
	}
	fmt.Fprintf(w, "Inicio:\t%s\n", p.EffectiveRole().HomePath())
	_ = w.Flush()
}

func printAudit(out io.Writer, records []models.AuditRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "Sin registros")
		return
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tFECHA\tUSUARIO\tACCION\tMODELO\tDESCRIPCION")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Date.Local().Format(dateFormat), r.User, r.Action, r.Model, r.Description)
	}
	_ = w.Flush()
}

func printCalificacionesReport(out io.Writer, r models.CalificacionesReport) {
	s := r.Summary
	fmt.Fprintf(out, "Calificaciones de los últimos %d días (desde %s)\n", s.PeriodDays, s.StartDate)

	w := newTable(out)
	fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	fmt.Fprintf(w, "Con auditoría solicitada:\t%d\n", s.WithAuditRequested)
	fmt.Fprintf(w, "Tasa de validación:\t%s%%\n", r.Metrics.ValidationRate.StringFixed(2))
	fmt.Fprintf(w, "Tasa de observación:\t%s%%\n", r.Metrics.ObservationRate.StringFixed(2))
	fmt.Fprintf(w, "Tasa de rechazo:\t%s%%\n", r.Metrics.RejectionRate.StringFixed(2))
	if r.Metrics.AvgValidationHours != nil {
		fmt.Fprintf(w, "Tiempo de validación promedio:\t%s h\n", r.Metrics.AvgValidationHours.StringFixed(1))
	}
	_ = w.Flush()

	printCounts(out, "Por estado", r.ByState)
	if len(r.Distribution) > 0 {
		fmt.Fprintln(out, "Distribución:")
		w := newTable(out)
		for _, state := range slices.Sorted(maps.Keys(r.Distribution)) {
			fmt.Fprintf(w, "  %s\t%s%%\n", state, r.Distribution[state].StringFixed(2))
		}
		_ = w.Flush()
	}
	if len(r.TopCreators) > 0 {
		fmt.Fprintln(out, "Principales creadores:")
		w := newTable(out)
		for _, c := range r.TopCreators {
			fmt.Fprintf(w, "  %s\t%d\n", c.FirstName, c.Count)
		}
		_ = w.Flush()
	}
}

func printAuditReport(out io.Writer, r models.AuditReport) {
	s := r.Summary
	fmt.Fprintf(out, "Auditoría de los últimos %d días (desde %s)\n", s.PeriodDays, s.StartDate)

	w := newTable(out)
	fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	fmt.Fprintf(w, "Solicitudes pendientes:\t%d\n", s.PendingAuditRequests)
	_ = w.Flush()

	printCounts(out, "Por acción", r.ByAction)
	printCounts(out, "Por modelo", r.ByModel)
	if len(r.ByUser) > 0 {
		fmt.Fprintln(out, "Por usuario:")
		w := newTable(out)
		for _, u := range r.ByUser {
			fmt.Fprintf(w, "  %s\t%d\n", u.Username, u.Count)
		}
		_ = w.Flush()
	}
	if len(r.Trend7Days) > 0 {
		fmt.Fprintln(out, "Tendencia 7 días:")
		w := newTable(out)
		for _, d := range r.Trend7Days {
			fmt.Fprintf(w, "  %s\t%d\n", d.Date, d.Total)
		}
		_ = w.Flush()
	}
}

func printCounts(out io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}

	fmt.Fprintf(out, "%s:\n", title)
	w := newTable(out)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %s\t%d\n", k, counts[k])
	}
	_ = w.Flush()
}

func printRules(out io.Writer, rules []models.Rule) {
	if len(rules) == 0 {
		fmt.Fprintln(out, "Sin reglas")
		return
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tNOMBRE\tVERSION\tESTADO\tCREADA POR")
	for _, r := range rules {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", r.ID, r.Name, r.Version, r.State, r.CreatedBy)
	}
	_ = w.Flush()
}

func printRule(out io.Writer, r models.Rule) {
	w := newTable(out)
	fmt.Fprintf(w, "ID:\t%d\n", r.ID)
	fmt.Fprintf(w, "Nombre:\t%s\n", r.Name)
	fmt.Fprintf(w, "Descripción:\t%s\n", r.Description)
	fmt.Fprintf(w, "Condición:\t%s\n", r.Condition)
	fmt.Fprintf(w, "Acción:\t%s\n", r.Action)
	fmt.Fprintf(w, "Versión:\t%d\n", r.Version)
	fmt.Fprintf(w, "Estado:\t%s\n", r.State)
	_ = w.Flush()
}

func printHistory(out io.Writer, h models.RuleHistory) {
	fmt.Fprintf(out, "%s (versión actual %d)\n", h.CurrentName, h.CurrentVersion)

	w := newTable(out)
	fmt.Fprintln(w, "VERSION\tFECHA\tMODIFICADA POR\tESTADO\tCOMENTARIO")
	for _, v := range h.History {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", v.Version, v.SnapshotAt.Local().Format(dateFormat), v.ModifiedBy, v.State, v.Comment)
	}
	_ = w.Flush()
}

func printDiff(out io.Writer, d models.RuleDiff) {
	changed := d.Changes.Fields()
	if len(changed) == 0 {
		fmt.Fprintf(out, "Sin cambios entre las versiones %d y %d\n", d.Version1.Version, d.Version2.Version)
		return
	}

	values := func(v models.RuleVersion) map[string]string {
		return map[string]string{
			"nombre":      v.Name,
			"descripcion": v.Description,
			"condicion":   v.Condition,
			"accion":      v.Action,
			"estado":      v.State,
		}
	}
	before, after := values(d.Version1), values(d.Version2)

	w := newTable(out)
	fmt.Fprintf(w, "CAMPO\tVERSION %d\tVERSION %d\n", d.Version1.Version, d.Version2.Version)
	for _, field := range changed {
		fmt.Fprintf(w, "%s\t%s\t%s\n", field, before[field], after[field])
	}
	_ = w.Flush()
}

func printCalificaciones(out io.Writer, list []models.Calificacion) {
	if len(list) == 0 {
		fmt.Fprintln(out, "Sin calificaciones")
		return
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tRUT\tTIPO\tPERIODO\tMONTO\tESTADO\tCREADA")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.RUT, c.CertificateType, c.Period, c.Amount.StringFixed(2), c.State, c.CreatedAt.Local().Format(dateFormat))
	}
	_ = w.Flush()
}

// Validation inbox lists attached documents too
func printPendingCalificaciones(out io.Writer, list []models.Calificacion) {
	printCalificaciones(out, list)
	for _, c := range list {
		for _, d := range c.Documents {
			fmt.Fprintf(out, "  %s: %s\n", c.ID, d.Name())
		}
	}
}

func printCalificacion(out io.Writer, c models.Calificacion) {
	w := newTable(out)
	fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	fmt.Fprintf(w, "RUT:\t%s\n", c.RUT)
	fmt.Fprintf(w, "Tipo de certificado:\t%s\n", c.CertificateType)
	fmt.Fprintf(w, "Periodo:\t%s\n", c.Period)
	fmt.Fprintf(w, "Monto:\t%s\n", c.Amount.StringFixed(2))
	fmt.Fprintf(w, "Estado:\t%s\n", c.State)
	if c.Comment != "" {
		fmt.Fprintf(w, "Comentario:\t%s\n", c.Comment)
	}
	_ = w.Flush()
}

func printCalificacionStats(out io.Writer, s models.CalificacionStats) {
	w := newTable(out)
	fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	fmt.Fprintf(w, "Monto total:\t%s\n", s.TotalAmount.StringFixed(2))
	_ = w.Flush()

	printCounts(out, "Por estado", s.ByState)
}

func printStateChange(out io.Writer, c models.CalificacionStateChange) {
	fmt.Fprintf(out, "%s (estado %s)\n", c.Detail, c.State)
}

func printNotification(out io.Writer, n models.Notification) {
	fmt.Fprintf(out, "[%s] %s: %s\n", n.Timestamp.Local().Format(dateFormat), n.Title, n.Message)
}

// describeError returns text to show the user
func describeError(err error) string {
	var (
		fieldErrs validate.Errors
		apiErr    *api.Error
	)

	switch {
	case errors.As(err, &fieldErrs):
		return "Datos inválidos:\n" + fieldLines(fieldErrs)
	case errors.As(err, &apiErr):
		if len(apiErr.Fields) > 0 {
			return apiErr.Message + ":\n" + fieldLines(apiErr.Fields)
		}
		return apiErr.Message
	case errors.Is(err, apperrors.ErrNoSession), errors.Is(err, apperrors.ErrAuthFailed):
		return "No hay sesión activa. Ejecute: nuamctl login"
	case errors.Is(err, apperrors.ErrForbiddenRole):
		return "Su rol no tiene acceso a esta función"
	default:
		return err.Error()
	}
}

func fieldLines(fields map[string]string) string {
	lines := make([]string, 0, len(fields))
	for _, f := range slices.Sorted(maps.Keys(fields)) {
		lines = append(lines, fmt.Sprintf("  %s: %s", f, fields[f]))
	}
	return strings.Join(lines, "\n")
}
