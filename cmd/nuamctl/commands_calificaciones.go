package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/nuamclient/internal/models"
)

type califCommand struct {
	roles []models.Role
	run   func(ctx context.Context, a *App, args []string) error
}

// Each subcommand has its own gate, as the dashboards of each role differ
var califCommands = map[string]califCommand{
	"list":    {rolesBroker, califList},
	"stats":   {rolesBroker, califStats},
	"create":  {rolesBroker, califCreate},
	"get":     {rolesAnyUser, califGet},
	"correct": {rolesCorrect, califCorrect},
	"all":     {rolesAnalyst, califAll},
	"send":    {rolesSend, califSend},
	"pending": {rolesReview, califPending},
	"resolve": {rolesReview, califResolve},
}

func runCalificaciones(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usageError("calificaciones expects a subcommand")
	}
	sub, args := args[0], args[1:]

	cmd, ok := califCommands[sub]
	if !ok {
		return usageError("unknown calificaciones subcommand %q", sub)
	}

	if _, err := a.auth.Authorize(ctx, cmd.roles...); err != nil {
		return err
	}
	return cmd.run(ctx, a, args)
}

// Single positional calificacion id followed by flags
func califArgs(name string, args []string, define func(fs *pflag.FlagSet)) (string, error) {
	rest, err := parseFlags(name, args, define)
	if err != nil {
		return "", err
	}
	if len(rest) != 1 {
		return "", usageError("%s expects the calificacion id", name)
	}
	return rest[0], nil
}

func commentFlag(comment *string) func(fs *pflag.FlagSet) {
	return func(fs *pflag.FlagSet) {
		fs.StringVarP(comment, "comentario", "c", "", "Comment")
	}
}

func califList(ctx context.Context, a *App, args []string) error {
	var f models.CalificacionFilter
	_, err := parseFlags("calificaciones list", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&f.State, "estado", "", "Filter by state")
		fs.StringVar(&f.Period, "periodo", "", "Filter by period")
		fs.StringVar(&f.CertificateType, "tipo", "", "Filter by certificate type")
	})
	if err != nil {
		return err
	}

	list, err := read(ctx, a, func(ctx context.Context) ([]models.Calificacion, error) {
		return a.califs.Mine(ctx, f)
	})
	if err != nil {
		return err
	}

	printCalificaciones(a.out, list)
	return nil
}

func califStats(ctx context.Context, a *App, args []string) error {
	if _, err := parseFlags("calificaciones stats", args, noFlags); err != nil {
		return err
	}

	stats, err := read(ctx, a, a.califs.Stats)
	if err != nil {
		return err
	}

	printCalificacionStats(a.out, stats)
	return nil
}

func califCreate(ctx context.Context, a *App, args []string) error {
	var (
		in     models.CalificacionInput
		amount string
	)
	_, err := parseFlags("calificaciones create", args, func(fs *pflag.FlagSet) {
		fs.Int64Var(&in.RegistroID, "registro", 0, "Source registro id")
		fs.StringVar(&in.CertificateType, "tipo", "", "Certificate type")
		fs.StringVar(&in.RUT, "rut", "", "Taxpayer RUT (XX.XXX.XXX-X)")
		fs.StringVar(&in.Period, "periodo", "", "Tax period")
		fs.StringVar(&amount, "monto", "0", "Amount")
		fs.StringVarP(&in.Comment, "comentario", "c", "", "Comment")
		fs.BoolVar(&in.RequestAuditoria, "auditoria", false, "Request an audit")
	})
	if err != nil {
		return err
	}

	in.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return usageError("invalid amount %q", amount)
	}

	res, err := a.califs.Create(ctx, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s (id %s, estado %s)\n", res.Detail, res.ID, res.State)
	if res.AuditRequested {
		fmt.Fprintln(a.out, "Auditoría solicitada")
	}
	return nil
}

func califGet(ctx context.Context, a *App, args []string) error {
	id, err := califArgs("calificaciones get", args, noFlags)
	if err != nil {
		return err
	}

	c, err := read(ctx, a, func(ctx context.Context) (models.Calificacion, error) {
		return a.califs.Get(ctx, id)
	})
	if err != nil {
		return err
	}

	printCalificacion(a.out, c)
	return nil
}

func califCorrect(ctx context.Context, a *App, args []string) error {
	var comment string
	id, err := califArgs("calificaciones correct", args, commentFlag(&comment))
	if err != nil {
		return err
	}

	res, err := a.califs.Correct(ctx, id, comment)
	if err != nil {
		return err
	}

	printStateChange(a.out, res)
	return nil
}

func califAll(ctx context.Context, a *App, args []string) error {
	var state string
	_, err := parseFlags("calificaciones all", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&state, "estado", "", "Filter by state")
	})
	if err != nil {
		return err
	}

	list, err := read(ctx, a, func(ctx context.Context) ([]models.Calificacion, error) {
		return a.califs.All(ctx, state)
	})
	if err != nil {
		return err
	}

	printCalificaciones(a.out, list)
	return nil
}

func califSend(ctx context.Context, a *App, args []string) error {
	var comment string
	id, err := califArgs("calificaciones send", args, commentFlag(&comment))
	if err != nil {
		return err
	}

	res, err := a.califs.Send(ctx, id, comment)
	if err != nil {
		return err
	}

	printStateChange(a.out, res)
	return nil
}

func califPending(ctx context.Context, a *App, args []string) error {
	if _, err := parseFlags("calificaciones pending", args, noFlags); err != nil {
		return err
	}

	list, err := read(ctx, a, a.califs.Pending)
	if err != nil {
		return err
	}

	printPendingCalificaciones(a.out, list)
	return nil
}

func califResolve(ctx context.Context, a *App, args []string) error {
	var state, comment string
	id, err := califArgs("calificaciones resolve", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&state, "estado", "", "Outcome (APROBADA, OBSERVADA, RECHAZADA)")
		fs.StringVarP(&comment, "comentario", "c", "", "Comment")
	})
	if err != nil {
		return err
	}

	res, err := a.califs.Resolve(ctx, id, state, comment)
	if err != nil {
		return err
	}

	printStateChange(a.out, res)
	return nil
}
