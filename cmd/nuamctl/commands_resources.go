package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/reports"
)

func runReport(ctx context.Context, a *App, args []string) error {
	var opts reports.Options
	rest, err := parseFlags("report", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&opts.Days, "days", 30, "Report period in days")
		fs.BoolVar(&opts.Refresh, "refresh", false, "Skip cached report")
	})
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return usageError("report expects calificaciones or auditoria")
	}

	if _, err := a.auth.Authorize(ctx, rolesAudit...); err != nil {
		return err
	}

	switch rest[0] {
	case "calificaciones":
		r, err := read(ctx, a, func(ctx context.Context) (models.CalificacionesReport, error) {
			return a.reports.Calificaciones(ctx, opts)
		})
		if err != nil {
			return err
		}
		printCalificacionesReport(a.out, r)
	case "auditoria":
		r, err := read(ctx, a, func(ctx context.Context) (models.AuditReport, error) {
			return a.reports.Audit(ctx, opts)
		})
		if err != nil {
			return err
		}
		printAuditReport(a.out, r)
	default:
		return usageError("unknown report %q", rest[0])
	}
	return nil
}

func runUpload(ctx context.Context, a *App, args []string) error {
	if len(args) != 1 {
		return usageError("upload expects the file path")
	}

	if _, err := a.auth.Authorize(ctx, rolesUpload...); err != nil {
		return err
	}

	// Progress comes from the transport goroutine
	var (
		mu   sync.Mutex
		last = -1
		done bool
	)
	res, err := a.certs.UploadFile(ctx, args[0], func(p models.UploadProgress) {
		mu.Lock()
		defer mu.Unlock()

		// Report each ten percent once
		percent := p.Percent() / 10 * 10
		if !done && percent != last {
			last = percent
			fmt.Fprintf(a.out, "Subiendo... %d%%\n", percent)
		}
	})
	mu.Lock()
	done = true
	mu.Unlock()
	if err != nil {
		return err
	}

	detail := res.Detail
	if detail == "" {
		detail = "Archivo cargado"
	}
	fmt.Fprintf(a.out, "%s (id %d)\n", detail, res.ID)
	return nil
}

func runWatch(ctx context.Context, a *App, args []string) error {
	var autoDismiss time.Duration
	_, err := parseFlags("watch", args, func(fs *pflag.FlagSet) {
		fs.DurationVar(&autoDismiss, "auto-dismiss", 0, "Dismiss notifications after this delay")
	})
	if err != nil {
		return err
	}

	if _, err := a.auth.Authorize(ctx, rolesAnyUser...); err != nil {
		return err
	}

	if a.cfg.MetricsAddr != "" {
		stop := a.serveMetrics()
		defer stop()
	}

	poller := a.newPoller(autoDismiss)
	var mu sync.Mutex
	seen := make(map[string]bool)
	unsubscribe := poller.Subscribe(func(list []models.Notification) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range list {
			if n.Dismissed {
				continue
			}
			// Every poll regenerates notices for the same pending state
			key := n.Title + "\x00" + n.Message
			if !seen[key] {
				seen[key] = true
				printNotification(a.out, n)
			}
		}
	})
	defer unsubscribe()

	if err := poller.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("Watching notifications", "interval", a.cfg.PollInterval)

	<-ctx.Done()
	poller.Stop()
	return nil
}

// serveMetrics runs Prometheus endpoint until returned func is called
func (a *App) serveMetrics() func() {
	srv := &http.Server{
		Addr:    a.cfg.MetricsAddr,
		Handler: a.metrics.Handler(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("Serving metrics", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("Metrics server shutdown failed", "error", err)
		}
		<-done
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, usageError("invalid rule id %q", s)
	}
	return id, nil
}
