package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkiryanov/nuamclient/internal/logger"
)

func main() {
	// Context cancelled on SIGTERM, watch stops with it
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdout, os.Stderr)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, "\n"+usage())
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// Command output goes to out, logs go to logs
func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, out io.Writer, logs io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env file. Err: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return usageError("%v", err)
	}
	rest, err := c.ParseFlags(args)
	if err != nil {
		return usageError("%v", err)
	}
	if err := c.Validate(); err != nil {
		return usageError("%v", err)
	}

	if len(rest) == 0 {
		return usageError("command expected")
	}
	if rest[0] == "help" {
		fmt.Fprint(out, usage())
		return nil
	}
	cmd, ok := findCommand(rest[0])
	if !ok {
		return usageError("unknown command %q", rest[0])
	}

	l, err := logger.New(logger.Options{Env: c.Environment, Level: c.LogLevel, Output: logs})
	if err != nil {
		return fmt.Errorf("error while initializing logger: %w", err)
	}

	app, err := NewApp(ctx, c, l, out)
	if err != nil {
		return err
	}
	defer app.Close()

	return cmd.run(ctx, app, rest[1:])
}
