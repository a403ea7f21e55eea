package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/nuamclient/internal/models"
)

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, a *App, args []string) error
}

var commands = []command{
	{"login", "login -u USER -p PASSWORD", "Start a session", runLogin},
	{"register", "register -u USER -e EMAIL -p PASSWORD --rol ROL", "Create an account", runRegister},
	{"mfa", "mfa CODE", "Send the authentication code of a pending login", runMFA},
	{"logout", "logout", "End the session", runLogout},
	{"whoami", "whoami", "Show the current user", runWhoami},
	{"audit", "audit [--limit N]", "Show recent audit records", runAudit},
	{"report", "report calificaciones|auditoria [--days N] [--refresh]", "Show a report", runReport},
	{"calificaciones", "calificaciones list|stats|create|get|correct|all|send|pending|resolve", "Work with calificaciones", runCalificaciones},
	{"rules", "rules list|get|create|update|delete|history|rollback|diff", "Manage business rules", runRules},
	{"upload", "upload FILE", "Upload a certificate file", runUpload},
	{"watch", "watch [--auto-dismiss D]", "Print notifications as they come", runWatch},
}

func findCommand(name string) (command, bool) {
	i := slices.IndexFunc(commands, func(c command) bool { return c.name == name })
	if i < 0 {
		return command{}, false
	}
	return commands[i], true
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage: nuamctl [global flags] COMMAND [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-70s %s\n", c.usage, c.summary)
	}
	return b.String()
}

// Role gates, superusers pass every gate
var (
	rolesAudit   = []models.Role{models.RoleAuditor, models.RoleTI}
	rolesRules   = []models.Role{models.RoleTI}
	rolesUpload  = []models.Role{models.RoleCorredor, models.RoleTI}
	rolesAnyUser []models.Role

	rolesBroker  = []models.Role{models.RoleCorredor, models.RoleTI}
	rolesCorrect = []models.Role{models.RoleCorredor}
	rolesAnalyst = []models.Role{models.RoleAnalista, models.RoleAuditor, models.RoleTI}
	rolesSend    = []models.Role{models.RoleAnalista, models.RoleTI}
	rolesReview  = []models.Role{models.RoleAuditor, models.RoleTI}
)

// Parses command flags, the rest are positional args
func parseFlags(name string, args []string, define func(fs *pflag.FlagSet)) ([]string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	define(fs)
	if err := fs.Parse(args); err != nil {
		return nil, usageError("%s: %v", name, err)
	}
	return fs.Args(), nil
}

func runLogin(ctx context.Context, a *App, args []string) error {
	var username, password string
	_, err := parseFlags("login", args, func(fs *pflag.FlagSet) {
		fs.StringVarP(&username, "username", "u", "", "User name")
		fs.StringVarP(&password, "password", "p", "", "Password")
	})
	if err != nil {
		return err
	}

	session, err := a.auth.Login(ctx, username, password)
	if err != nil {
		return err
	}

	if session.MFARequired {
		fmt.Fprintln(a.out, "Se requiere código de autenticación. Ejecute: nuamctl mfa CODIGO")
		return nil
	}
	printSession(a.out, session.Profile, session.HomePath)
	return nil
}

func runRegister(ctx context.Context, a *App, args []string) error {
	var (
		in   models.Registration
		role string
	)
	_, err := parseFlags("register", args, func(fs *pflag.FlagSet) {
		fs.StringVarP(&in.Username, "username", "u", "", "User name")
		fs.StringVarP(&in.Email, "email", "e", "", "Email")
		fs.StringVarP(&in.Password, "password", "p", "", "Password")
		fs.StringVar(&role, "rol", "", "Role (CORREDOR, ANALISTA, AUDITOR)")
	})
	if err != nil {
		return err
	}
	in.Role = models.Role(role)

	res, err := a.auth.Register(ctx, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Usuario %s creado (id %d). Ejecute: nuamctl login\n", res.Username, res.ID)
	return nil
}

func runMFA(ctx context.Context, a *App, args []string) error {
	if len(args) != 1 {
		return usageError("mfa expects the code")
	}

	session, err := a.auth.CompleteMFA(ctx, args[0])
	if err != nil {
		return err
	}

	printSession(a.out, session.Profile, session.HomePath)
	return nil
}

func runLogout(ctx context.Context, a *App, _ []string) error {
	a.auth.Logout(ctx)
	fmt.Fprintln(a.out, "Sesión cerrada")
	return nil
}

func runWhoami(ctx context.Context, a *App, _ []string) error {
	profile, err := read(ctx, a, a.auth.Whoami)
	if err != nil {
		return err
	}

	printProfile(a.out, profile)
	return nil
}

func runAudit(ctx context.Context, a *App, args []string) error {
	var limit int
	_, err := parseFlags("audit", args, func(fs *pflag.FlagSet) {
		fs.IntVarP(&limit, "limit", "n", 10, "Number of records")
	})
	if err != nil {
		return err
	}

	if _, err := a.auth.Authorize(ctx, rolesAudit...); err != nil {
		return err
	}

	records, err := read(ctx, a, func(ctx context.Context) ([]models.AuditRecord, error) {
		return a.client.RecentAudit(ctx, limit)
	})
	if err != nil {
		return err
	}

	printAudit(a.out, records)
	return nil
}
