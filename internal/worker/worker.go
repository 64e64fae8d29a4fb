// Package worker drains the send-job queue: each worker takes a job,
// reserves a rate-limit slot for the job's sending domain, renders the
// message, and hands it to the transport. Outcomes flow back into the
// event pipeline so progress counters stay consistent with what actually
// left the building.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/ratelimit"
	"github.com/ignite/campaign-engine/internal/reconciler"
	"github.com/ignite/campaign-engine/internal/transport"
)

// Renderer produces the subject and body for a job.
type Renderer interface {
	Render(job *domain.SendJob) (subject, html, text string, err error)
}

// StaticRenderer fills a fixed subject and body, with the recipient email
// available to templates later. Stands in until template storage lands.
//
// TODO: replace with a template table lookup once campaign templates move
// into Postgres.
type StaticRenderer struct {
	Subject string
	HTML    string
	Text    string
}

func (r StaticRenderer) Render(job *domain.SendJob) (string, string, string, error) {
	subject := r.Subject
	if subject == "" {
		subject = job.TemplateName
	}
	return subject, r.HTML, r.Text, nil
}

// EventSink receives send/failure outcomes. Satisfied by the reconciler.
type EventSink interface {
	Ingest(ctx context.Context, raw reconciler.RawEvent) error
}

// Pool is a fixed-size set of send workers sharing one queue.
type Pool struct {
	jobs     queue.Queue
	sender   transport.Sender
	limiter  *ratelimit.Limiter
	renderer Renderer
	events   EventSink
	retry    queue.RetryPolicy
	log      *logger.Logger

	concurrency int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed int64
	accepted  int64
	rejected  int64
	requeued  int64
}

// NewPool creates a worker pool. The limiter and sink may be nil.
func NewPool(jobs queue.Queue, sender transport.Sender, limiter *ratelimit.Limiter, renderer Renderer, events EventSink, retry queue.RetryPolicy, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	if renderer == nil {
		renderer = StaticRenderer{}
	}
	return &Pool{
		jobs:        jobs,
		sender:      sender,
		limiter:     limiter,
		renderer:    renderer,
		events:      events,
		retry:       retry,
		log:         logger.With("worker"),
		concurrency: concurrency,
	}
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.log.Info("worker pool started", "concurrency", p.concurrency)
	return nil
}

// Stop halts the workers and waits for in-flight sends to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		job, err := p.jobs.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
			return
		}
		if err != nil {
			p.log.Error("dequeue", "error", err)
			continue
		}
		p.Process(ctx, job)
	}
}

// Process handles one job end to end. Exported for tests and for single-shot
// draining.
func (p *Pool) Process(ctx context.Context, job *domain.SendJob) {
	atomic.AddInt64(&p.processed, 1)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, job.Domain); err != nil {
			// Shutdown mid-wait: push the job back for the next run.
			p.requeue(ctx, job)
			return
		}
	}

	subject, html, text, err := p.renderer.Render(job)
	if err != nil {
		p.log.Error("render failed", "campaign_id", job.CampaignID, "message_id", job.MessageID, "error", err)
		p.emit(ctx, job, string(domain.EventRenderingFailure), err.Error())
		atomic.AddInt64(&p.rejected, 1)
		return
	}

	msg := transport.MessageFromJob(job, subject, html, text)
	res, err := p.sender.Send(ctx, msg)
	if err != nil {
		// Transport-level failure: retry on a later attempt if budget
		// remains, otherwise record the loss.
		if job.Attempt < p.retry.MaxAttempts {
			job.Attempt++
			p.requeue(ctx, job)
			return
		}
		p.log.Error("send failed permanently", "campaign_id", job.CampaignID, "message_id", job.MessageID, "error", err)
		p.emit(ctx, job, string(domain.EventReject), err.Error())
		atomic.AddInt64(&p.rejected, 1)
		return
	}

	if !res.Accepted {
		// Provider rejection is final; retrying a rejected message only
		// burns reputation.
		detail := ""
		if res.Err != nil {
			detail = res.Err.Error()
		}
		p.emit(ctx, job, string(domain.EventReject), detail)
		atomic.AddInt64(&p.rejected, 1)
		return
	}

	p.emit(ctx, job, string(domain.EventSend), res.ProviderMessageID)
	atomic.AddInt64(&p.accepted, 1)
}

func (p *Pool) requeue(ctx context.Context, job *domain.SendJob) {
	delay := p.retry.Backoff(job.Attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	if err := p.jobs.Enqueue(context.Background(), job); err != nil {
		p.log.Error("requeue failed", "campaign_id", job.CampaignID, "message_id", job.MessageID, "error", err)
		return
	}
	atomic.AddInt64(&p.requeued, 1)
}

func (p *Pool) emit(ctx context.Context, job *domain.SendJob, eventType, details string) {
	if p.events == nil {
		return
	}
	err := p.events.Ingest(ctx, reconciler.RawEvent{
		CampaignID: job.CampaignID,
		MessageID:  job.MessageID,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		Recipient:  job.Recipient.Email,
		Details:    details,
	})
	if err != nil {
		p.log.Error("record outcome", "campaign_id", job.CampaignID, "message_id", job.MessageID, "error", err)
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Processed int64 `json:"processed"`
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
	Requeued  int64 `json:"requeued"`
}

// Stats returns the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: atomic.LoadInt64(&p.processed),
		Accepted:  atomic.LoadInt64(&p.accepted),
		Rejected:  atomic.LoadInt64(&p.rejected),
		Requeued:  atomic.LoadInt64(&p.requeued),
	}
}
