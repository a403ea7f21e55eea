package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/metrics"
	"github.com/nkiryanov/nuamclient/internal/models"
)

const (
	defaultInterval   = 10 * time.Second
	defaultAuditLimit = 5
	defaultReportDays = 1
	defaultRetention  = 30 * time.Second
)

type reportAPI interface {
	RecentAudit(ctx context.Context, limit int) ([]models.AuditRecord, error)
	CalificacionesReport(ctx context.Context, days int) (models.CalificacionesReport, error)
}

type tokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Poller config with sensible defaults
type Config struct {
	// If not set than default is used
	Interval   time.Duration
	AuditLimit int
	ReportDays int

	// Older notifications are dropped when new ones are generated
	Retention time.Duration

	// Delay before a notification is dismissed on its own, zero keeps it until dismissed
	AutoDismiss time.Duration

	Clock clock.WithTickerAndDelayedExecution
}

// Poller periodically derives notifications from audit log and report summary
type Poller struct {
	api     reportAPI
	tokens  tokenSource
	logger  logger.Logger
	metrics *metrics.Metrics
	clock   clock.WithTickerAndDelayedExecution

	interval    time.Duration
	auditLimit  int
	reportDays  int
	retention   time.Duration
	autoDismiss time.Duration

	mu            sync.Mutex
	notifications []models.Notification
	dismissTimers map[string]clock.Timer
	observers     map[int]func([]models.Notification)
	nextID        int

	// Loop state, guarded by runMu
	runMu   sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

func New(cfg Config, api reportAPI, tokens tokenSource, l logger.Logger, m *metrics.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.AuditLimit <= 0 {
		cfg.AuditLimit = defaultAuditLimit
	}
	if cfg.ReportDays <= 0 {
		cfg.ReportDays = defaultReportDays
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Poller{
		api:           api,
		tokens:        tokens,
		logger:        l.With("component", "notify"),
		metrics:       m,
		clock:         cfg.Clock,
		interval:      cfg.Interval,
		auditLimit:    cfg.AuditLimit,
		reportDays:    cfg.ReportDays,
		retention:     cfg.Retention,
		autoDismiss:   cfg.AutoDismiss,
		dismissTimers: make(map[string]clock.Timer),
		observers:     make(map[int]func([]models.Notification)),
	}
}

// Start polls at once and then every interval until Stop or ctx is done
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.stop != nil {
		return errors.New("poller already started")
	}

	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
	p.logger.Debug("Starting poller", "interval", p.interval)

	go p.loop(ctx, p.stop, p.stopped)
	return nil
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Poller stopped by context")
			return

		case <-stop:
			p.logger.Debug("Poller stopped")
			return

		case <-ticker.C():
			p.Poll(ctx)
		}
	}
}

// Stop halts the schedule and waits for the loop to exit
// A poll in flight is completed, not cancelled
// Auto-dismiss timers are stopped, notifications are kept
func (p *Poller) Stop() {
	p.runMu.Lock()
	stop, stopped := p.stop, p.stopped
	p.stop, p.stopped = nil, nil
	p.runMu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}

	p.mu.Lock()
	for id, t := range p.dismissTimers {
		t.Stop()
		delete(p.dismissTimers, id)
	}
	p.mu.Unlock()
}

// Poll runs one generation cycle
// Without access token it does nothing, fetch failures are logged and the cycle is skipped
func (p *Poller) Poll(ctx context.Context) {
	token, err := p.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		p.metrics.RecordPoll("skipped")
		return
	}

	generated, err := p.generate(ctx)
	if err != nil {
		p.logger.Warn("Failed to check notifications", "error", err)
		p.metrics.RecordPoll("error")
		return
	}
	p.metrics.RecordPoll("ok")

	p.append(generated)
}

func (p *Poller) generate(ctx context.Context) ([]models.Notification, error) {
	records, err := p.api.RecentAudit(ctx, p.auditLimit)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}

	report, err := p.api.CalificacionesReport(ctx, p.reportDays)
	if err != nil {
		return nil, fmt.Errorf("calificaciones report: %w", err)
	}

	now := p.clock.Now()
	var out []models.Notification

	requested := 0
	for _, r := range records {
		if r.Action == models.AuditActionRequested {
			requested++
		}
	}
	if requested > 0 {
		out = append(out, models.Notification{
			ID:        "audit-" + uuid.NewString(),
			Type:      models.NotificationAudit,
			Title:     "Auditoría Solicitada",
			Message:   fmt.Sprintf("Se han solicitado %d auditorías", requested),
			Timestamp: now,
		})
	}

	if validated := report.ByState[models.EstadoValidada]; validated > 0 {
		out = append(out, models.Notification{
			ID:        "validated-" + uuid.NewString(),
			Type:      models.NotificationSuccess,
			Title:     "Calificaciones Validadas",
			Message:   fmt.Sprintf("%d calificación(es) validada(s) hoy", validated),
			Timestamp: now,
		})
	}

	return out, nil
}

func (p *Poller) append(generated []models.Notification) {
	now := p.clock.Now()

	p.mu.Lock()
	kept := p.notifications[:0]
	for _, n := range p.notifications {
		if now.Sub(n.Timestamp) < p.retention {
			kept = append(kept, n)
			continue
		}
		p.stopDismissLocked(n.ID)
	}
	p.notifications = append(kept, generated...)

	for _, n := range generated {
		p.metrics.RecordNotification(string(n.Type))
		p.logger.Info("Notification", "type", n.Type, "title", n.Title, "message", n.Message)
		if p.autoDismiss > 0 {
			p.scheduleDismissLocked(n.ID)
		}
	}
	p.mu.Unlock()

	p.notify()
}

// Notifications returns a snapshot, oldest first
func (p *Poller) Notifications() []models.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.notifications)
}

// Dismiss removes notification by id, unknown id is ignored
// Subscribers first see the entry flagged as dismissed and then the list without it
func (p *Poller) Dismiss(id string) {
	p.mu.Lock()
	p.stopDismissLocked(id)
	i := slices.IndexFunc(p.notifications, func(n models.Notification) bool { return n.ID == id })
	if i < 0 || p.notifications[i].Dismissed {
		p.mu.Unlock()
		return
	}
	p.notifications[i].Dismissed = true
	p.mu.Unlock()

	p.notify()

	p.mu.Lock()
	p.notifications = slices.DeleteFunc(p.notifications, func(n models.Notification) bool { return n.ID == id })
	p.mu.Unlock()

	p.notify()
}

func (p *Poller) ClearAll() {
	p.mu.Lock()
	p.notifications = nil
	for id := range p.dismissTimers {
		p.stopDismissLocked(id)
	}
	p.mu.Unlock()

	p.notify()
}

// Subscribe registers fn called with a snapshot after every change
// Returned func removes the subscription
func (p *Poller) Subscribe(fn func([]models.Notification)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.observers[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

func (p *Poller) notify() {
	p.mu.Lock()
	snapshot := slices.Clone(p.notifications)
	observers := make([]func([]models.Notification), 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

func (p *Poller) scheduleDismissLocked(id string) {
	p.dismissTimers[id] = p.clock.AfterFunc(p.autoDismiss, func() {
		// Clock may run callbacks under its own lock
		go p.Dismiss(id)
	})
}

func (p *Poller) stopDismissLocked(id string) {
	if t, ok := p.dismissTimers[id]; ok {
		t.Stop()
		delete(p.dismissTimers, id)
	}
}
