// Package queue drives the allocation engine over the open request backlog
// in urgency order. It runs on a schedule and after inventory changes that
// may unblock waiting requests.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"bloodbank/internal/allocation/metrics"
	"bloodbank/internal/allocation/models"
	"bloodbank/internal/allocation/ports"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/events"
)

// Allocator is the engine surface the processor drives.
type Allocator interface {
	Allocate(ctx context.Context, requestID domain.RequestID) (*models.Result, error)
}

type Processor struct {
	ledger    ports.LedgerStore
	allocator Allocator
	metrics   *metrics.Metrics
	publisher events.Publisher
	logger    *slog.Logger
}

// Option configures the Processor.
type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(p *Processor) {
		if publisher != nil {
			p.publisher = publisher
		}
	}
}

func New(ledger ports.LedgerStore, allocator Allocator, opts ...Option) (*Processor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if allocator == nil {
		return nil, fmt.Errorf("allocator is required")
	}
	p := &Processor{
		ledger:    ledger,
		allocator: allocator,
		publisher: events.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessBacklog drives one sequential pass over every open request, most
// urgent first. A failing request is logged and counted; it never aborts
// the remainder of the run. Only context cancellation stops a pass early.
func (p *Processor) ProcessBacklog(ctx context.Context) (models.Summary, error) {
	var summary models.Summary

	open, err := p.ledger.ListOpen(ctx)
	if err != nil {
		return summary, fmt.Errorf("list open requests: %w", err)
	}
	orderByUrgency(open)

	for _, request := range open {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		result, err := p.allocator.Allocate(ctx, request.ID)
		if err != nil {
			summary.Failed++
			p.logger.Error("backlog allocation failed",
				"request_id", request.ID.String(),
				"error", err)
			continue
		}
		switch result.Status {
		case models.ResultFulfilled:
			summary.Fulfilled++
		case models.ResultPartiallyFulfilled:
			summary.Partial++
		case models.ResultUnfulfilled:
			summary.Unfulfilled++
		}
	}

	if p.metrics != nil {
		p.metrics.IncrementBacklogRuns()
	}
	p.logger.Info("backlog processed",
		"processed", summary.Processed,
		"fulfilled", summary.Fulfilled,
		"partial", summary.Partial,
		"unfulfilled", summary.Unfulfilled,
		"failed", summary.Failed)
	p.publisher.Emit(ctx, events.Event{
		Kind:      events.KindBacklogProcessed,
		Timestamp: time.Now(),
		Fields: map[string]string{
			"processed": fmt.Sprintf("%d", summary.Processed),
			"fulfilled": fmt.Sprintf("%d", summary.Fulfilled),
			"failed":    fmt.Sprintf("%d", summary.Failed),
		},
	})
	return summary, nil
}

// orderByUrgency sorts the backlog into processing order: urgency rank
// descending, numeric priority descending, then oldest first with the id
// string as the final deterministic tie break.
func orderByUrgency(requests []*models.Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		a, b := requests[i], requests[j]
		if a.Urgency.Rank() != b.Urgency.Rank() {
			return a.Urgency.Rank() > b.Urgency.Rank()
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
