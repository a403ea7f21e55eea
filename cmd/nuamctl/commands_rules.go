package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/nuamclient/internal/models"
)

func runRules(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usageError("rules expects a subcommand")
	}
	sub, args := args[0], args[1:]

	handlers := map[string]func(ctx context.Context, a *App, args []string) error{
		"list":     rulesList,
		"get":      rulesGet,
		"create":   rulesCreate,
		"update":   rulesUpdate,
		"delete":   rulesDelete,
		"history":  rulesHistory,
		"rollback": rulesRollback,
		"diff":     rulesDiff,
	}
	h, ok := handlers[sub]
	if !ok {
		return usageError("unknown rules subcommand %q", sub)
	}

	if _, err := a.auth.Authorize(ctx, rolesRules...); err != nil {
		return err
	}
	return h(ctx, a, args)
}

func rulesList(ctx context.Context, a *App, args []string) error {
	var search string
	_, err := parseFlags("rules list", args, func(fs *pflag.FlagSet) {
		fs.StringVarP(&search, "search", "q", "", "Filter by name or description")
	})
	if err != nil {
		return err
	}

	rules, err := read(ctx, a, func(ctx context.Context) ([]models.Rule, error) {
		if search != "" {
			return a.rules.Search(ctx, search)
		}
		return a.rules.List(ctx)
	})
	if err != nil {
		return err
	}

	printRules(a.out, rules)
	return nil
}

// Single positional id followed by flags
func ruleArgs(name string, args []string, define func(fs *pflag.FlagSet)) (int64, error) {
	rest, err := parseFlags(name, args, define)
	if err != nil {
		return 0, err
	}
	if len(rest) != 1 {
		return 0, usageError("%s expects the rule id", name)
	}
	return parseID(rest[0])
}

func noFlags(*pflag.FlagSet) {}

func ruleInputFlags(in *models.RuleInput) func(fs *pflag.FlagSet) {
	return func(fs *pflag.FlagSet) {
		fs.StringVar(&in.Name, "nombre", "", "Rule name")
		fs.StringVar(&in.Description, "descripcion", "", "Rule description")
		fs.StringVar(&in.Condition, "condicion", "", "Rule condition")
		fs.StringVar(&in.Action, "accion", "", "Rule action")
		fs.StringVar(&in.State, "estado", "", "Rule state (ACTIVA, INACTIVA, DEPRECADA, REVISION)")
	}
}

func rulesGet(ctx context.Context, a *App, args []string) error {
	id, err := ruleArgs("rules get", args, noFlags)
	if err != nil {
		return err
	}

	rule, err := read(ctx, a, func(ctx context.Context) (models.Rule, error) {
		return a.rules.Get(ctx, id)
	})
	if err != nil {
		return err
	}

	printRule(a.out, rule)
	return nil
}

func rulesCreate(ctx context.Context, a *App, args []string) error {
	var in models.RuleInput
	if _, err := parseFlags("rules create", args, ruleInputFlags(&in)); err != nil {
		return err
	}

	created, err := a.rules.Create(ctx, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Regla creada (id %d)\n", created.ID)
	return nil
}

func rulesUpdate(ctx context.Context, a *App, args []string) error {
	var in models.RuleInput
	id, err := ruleArgs("rules update", args, ruleInputFlags(&in))
	if err != nil {
		return err
	}

	if err := a.rules.Update(ctx, id, in); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Regla %d actualizada\n", id)
	return nil
}

func rulesDelete(ctx context.Context, a *App, args []string) error {
	id, err := ruleArgs("rules delete", args, noFlags)
	if err != nil {
		return err
	}

	if err := a.rules.Delete(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Regla %d eliminada\n", id)
	return nil
}

func rulesHistory(ctx context.Context, a *App, args []string) error {
	id, err := ruleArgs("rules history", args, noFlags)
	if err != nil {
		return err
	}

	h, err := read(ctx, a, func(ctx context.Context) (models.RuleHistory, error) {
		return a.rules.History(ctx, id)
	})
	if err != nil {
		return err
	}

	printHistory(a.out, h)
	return nil
}

func rulesRollback(ctx context.Context, a *App, args []string) error {
	var (
		version int
		comment string
	)
	id, err := ruleArgs("rules rollback", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&version, "version", 0, "Version to restore")
		fs.StringVar(&comment, "comentario", "", "Comment of the new version")
	})
	if err != nil {
		return err
	}

	res, err := a.rules.Rollback(ctx, id, version, comment)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s: %s, versión %d\n", res.Detail, res.Name, res.NewVersion)
	return nil
}

func rulesDiff(ctx context.Context, a *App, args []string) error {
	var v1, v2 int
	id, err := ruleArgs("rules diff", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&v1, "v1", 0, "First version")
		fs.IntVar(&v2, "v2", 0, "Second version")
	})
	if err != nil {
		return err
	}

	diff, err := read(ctx, a, func(ctx context.Context) (models.RuleDiff, error) {
		return a.rules.Compare(ctx, id, v1, v2)
	})
	if err != nil {
		return err
	}

	printDiff(a.out, diff)
	return nil
}
