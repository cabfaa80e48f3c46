package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/model"
)

// auditPublish drains the audits accumulated since the previous run,
// aggregates them into one event summary and publishes it to the TMB.
// Published audits are removed from the store.
type auditPublish struct {
	audits    auditSource
	tmb       summaryPublisher
	publisher string
	interval  time.Duration

	mu    sync.Mutex
	since time.Time
}

type auditSource interface {
	Range(ctx context.Context, from, until time.Time) ([]map[string]any, error)
	RemoveRange(ctx context.Context, from, until time.Time) (int64, error)
}

type summaryPublisher interface {
	PublishEventSummary(ctx context.Context, summary model.EventSummary) error
}

func newAuditPublish(deps Deps) (Task, error) {
	if deps.Audits == nil {
		return nil, errors.New("audit store is not configured")
	}
	if deps.Cfg == nil || deps.Cfg.Services.Audit == nil || deps.Cfg.Services.Audit.URL == "" {
		return nil, errors.New("audit service is not configured")
	}
	cfg := deps.Cfg.Services.Audit
	return &auditPublish{
		audits:    deps.Audits,
		tmb:       client.NewTMB(cfg.URL, deps.connection()),
		publisher: cfg.Publisher,
		interval:  time.Duration(cfg.Interval) * time.Second,
	}, nil
}

func (t *auditPublish) Name() string { return "AuditPublish" }

func (t *auditPublish) Interval() time.Duration { return t.interval }

func (t *auditPublish) Run(ctx context.Context) error {
	t.mu.Lock()
	from := t.since
	t.mu.Unlock()
	until := time.Now()

	audits, err := t.audits.Range(ctx, from, until)
	if err != nil {
		return err
	}
	if len(audits) == 0 {
		slog.Debug("no audits to publish")
		return nil
	}

	summary := Summarize(audits, t.publisher)
	if err := t.tmb.PublishEventSummary(ctx, summary); err != nil {
		return err
	}

	removed, err := t.audits.RemoveRange(ctx, from, until)
	if err != nil {
		return err
	}
	slog.Info("published audit summary", "audits", len(audits), "removed", removed)

	t.mu.Lock()
	t.since = until
	t.mu.Unlock()
	return nil
}

// Summarize aggregates audit records into one event summary: per-severity
// counts, the union of tags and event types, and the covered date range.
func Summarize(audits []map[string]any, publisher string) model.EventSummary {
	summary := model.EventSummary{Publisher: publisher}

	tags := model.NewTypeSet()
	eventTypes := model.NewTypeSet()
	for _, a := range audits {
		switch severity(a) {
		case 1:
			summary.Severity.High++
		case 2:
			summary.Severity.Medium++
		case 3:
			summary.Severity.Low++
		}
		if list, ok := a["tags"].([]any); ok {
			for _, tag := range list {
				if s, ok := tag.(string); ok {
					tags.Merge(s)
				}
			}
		}
		if eventType, ok := a["event_type"].(string); ok {
			eventTypes.Merge(eventType)
		}
		if date, ok := a["date"].(string); ok {
			if summary.StartDate == "" || date < summary.StartDate {
				summary.StartDate = date
			}
			if summary.EndDate == "" || date > summary.EndDate {
				summary.EndDate = date
			}
		}
	}
	summary.Tags = tags.Sorted()
	summary.EventTypes = eventTypes.Sorted()
	return summary
}

func severity(audit map[string]any) int {
	switch v := audit["severity"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
