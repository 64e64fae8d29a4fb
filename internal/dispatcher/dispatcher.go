// Package dispatcher runs the engine loop: every poll interval it walks the
// running campaigns, rolls day boundaries, materializes missing plans, and
// pushes due plan leaves onto the work queue.
//
// Correctness rests on two gates. A per-campaign distributed lock keeps two
// engine instances from ticking the same campaign concurrently, and every
// leaf is claimed through a unique dispatch-log insert before any job is
// enqueued, so a crash between claim and enqueue can underdeliver a single
// leaf but never duplicate one.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/planner"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/recipients"
	"github.com/ignite/campaign-engine/internal/store"
)

// ErrInvalidTransition is returned by lifecycle commands when the campaign's
// current status does not allow the requested transition.
var (
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEnqueueFailed wraps work-queue push errors. Transient on its own;
	// a tick where every push failed escalates the campaign to failed.
	ErrEnqueueFailed = errors.New("enqueue send job")
)

// Store is the slice of persistence the engine needs.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	MarkCampaignFailed(ctx context.Context, id, reason string) error
	SetCompletionEligibleAt(ctx context.Context, id string, at *time.Time) error

	GetPlan(ctx context.Context, campaignID string, day int) (*domain.DailyPlan, error)
	SavePlan(ctx context.Context, campaignID string, plan *domain.DailyPlan) error

	GetProgress(ctx context.Context, campaignID string) (*domain.Progress, error)
	MarkStarted(ctx context.Context, campaignID, utcDay string) error
	AdvanceDay(ctx context.Context, campaignID string, day int) error
	SetCurrentHour(ctx context.Context, campaignID string, hour int) error
	IncrementSent(ctx context.Context, campaignID string, n int) error

	ClaimLeaf(ctx context.Context, campaignID string, day int, leaf domain.Leaf) (bool, error)
}

// RecipientSource supplies recipient batches for dispatched leaves.
type RecipientSource interface {
	NextBatch(ctx context.Context, campaignID string, n int, warmup bool) ([]domain.Recipient, error)
	Available(ctx context.Context, campaignID string) (int, error)
	SeedCursor(ctx context.Context, campaignID string, position int64) error
}

// LockFactory builds the per-campaign tick lock.
type LockFactory func(campaignID string) distlock.Lock

// Engine is the campaign dispatch loop.
type Engine struct {
	store  Store
	source RecipientSource
	jobs   queue.Queue
	locks  LockFactory
	log    *logger.Logger

	pollInterval time.Duration
	grace        time.Duration
	retry        queue.RetryPolicy
	now          func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ticks          int64
	leavesClaimed  int64
	jobsEnqueued   int64
	plansGenerated int64
}

// Config holds engine construction parameters.
type Config struct {
	PollInterval    time.Duration
	CompletionGrace time.Duration
	EnqueueRetry    queue.RetryPolicy
}

// New creates an engine. The lock factory may be nil, in which case ticks
// run unlocked (single-instance deployments and tests).
func New(st Store, source RecipientSource, jobs queue.Queue, locks LockFactory, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.CompletionGrace <= 0 {
		cfg.CompletionGrace = 24 * time.Hour
	}
	if cfg.EnqueueRetry.MaxAttempts <= 0 {
		cfg.EnqueueRetry = queue.DefaultRetryPolicy()
	}
	return &Engine{
		store:        st,
		source:       source,
		jobs:         jobs,
		locks:        locks,
		log:          logger.With("dispatcher"),
		pollInterval: cfg.PollInterval,
		grace:        cfg.CompletionGrace,
		retry:        cfg.EnqueueRetry,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the poll loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("dispatcher already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go e.runLoop(ctx)
	e.log.Info("dispatcher started", "poll_interval", e.pollInterval)
	return nil
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info("dispatcher stopped")
}

func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one pass over the running campaigns. Exported so tests and the
// simulate endpoint can drive the engine without the timer.
func (e *Engine) Tick(ctx context.Context) {
	atomic.AddInt64(&e.ticks, 1)

	campaigns, err := e.store.ListCampaignsByStatus(ctx, domain.CampaignRunning)
	if err != nil {
		e.log.Error("list running campaigns", "error", err)
		return
	}

	for i := range campaigns {
		c := &campaigns[i]
		if err := e.tickCampaign(ctx, c); err != nil {
			e.log.Error("campaign tick", "campaign_id", c.ID, "error", err)
		}
	}
}

func (e *Engine) tickCampaign(ctx context.Context, c *domain.Campaign) error {
	if e.locks != nil {
		lock := e.locks(c.ID)
		ok, err := lock.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			return nil // another instance owns this campaign right now
		}
		defer lock.Release(ctx)
	}

	// Completion sweep first: an eligible campaign past its grace window
	// needs no further dispatching.
	if c.CompletionEligibleAt != nil {
		if e.now().After(c.CompletionEligibleAt.Add(e.grace)) {
			e.log.Info("campaign completed", "campaign_id", c.ID)
			return e.store.UpdateCampaignStatus(ctx, c.ID, domain.CampaignCompleted)
		}
		return nil
	}

	p, err := e.store.GetProgress(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}
	if p.StartedOnUTCDay == "" {
		// StartCampaign stamps this; tolerate campaigns started before the
		// stamp existed.
		if err := e.store.MarkStarted(ctx, c.ID, e.now().Format("2006-01-02")); err != nil {
			return err
		}
		p.StartedOnUTCDay = e.now().Format("2006-01-02")
	}

	elapsed, err := elapsedDays(p.StartedOnUTCDay, e.now())
	if err != nil {
		return err
	}

	// Non-warmup campaigns end after the quota horizon.
	if !c.Config.Warmup.Enabled && elapsed > c.Config.QuotaDays {
		return e.markCompletionEligible(ctx, c)
	}

	planDay := planDayFor(elapsed, c.Config)
	if planDay != p.CurrentDay {
		if err := e.store.AdvanceDay(ctx, c.ID, planDay); err != nil {
			return err
		}
		p.CurrentDay = planDay
		e.log.Info("day advanced", "campaign_id", c.ID, "day", planDay)
	}

	plan, err := e.ensurePlan(ctx, c, planDay)
	if errors.Is(err, planner.ErrListExhausted) {
		return e.markCompletionEligible(ctx, c)
	}
	if err != nil {
		// Plan generation failures are configuration problems; the
		// campaign cannot make progress until the config changes.
		e.log.Error("plan generation failed", "campaign_id", c.ID, "day", planDay, "error", err)
		return e.store.MarkCampaignFailed(ctx, c.ID, fmt.Sprintf("plan generation for day %d: %v", planDay, err))
	}

	return e.dispatchDue(ctx, c, p, plan)
}

// ensurePlan returns the stored plan for the day, generating and persisting
// it on first touch.
func (e *Engine) ensurePlan(ctx context.Context, c *domain.Campaign, day int) (*domain.DailyPlan, error) {
	plan, err := e.store.GetPlan(ctx, c.ID, day)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	available, err := e.source.Available(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	plan, err = planner.PlanDay(c.ID, c.Config, day, e.now(), available)
	if err != nil {
		return nil, err
	}
	if err := e.store.SavePlan(ctx, c.ID, plan); err != nil {
		return nil, err
	}
	atomic.AddInt64(&e.plansGenerated, 1)
	e.log.Info("plan generated", "campaign_id", c.ID, "day", day, "total", plan.TotalEmails)
	return plan, nil
}

// dispatchDue claims and enqueues every leaf at or before the current UTC
// hour and minute. Leaves missed while the engine was down are caught up in
// the same pass; their delay is real time lost, not volume lost.
func (e *Engine) dispatchDue(ctx context.Context, c *domain.Campaign, p *domain.Progress, plan *domain.DailyPlan) error {
	now := e.now()
	hour, minute := now.Hour(), now.Minute()

	// Leaves() groups by domain and sender; dispatch order is clock order.
	// The stable sort keeps domain/sender order within a minute so the
	// sequence stays deterministic.
	leaves := plan.Leaves()
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].Hour != leaves[j].Hour {
			return leaves[i].Hour < leaves[j].Hour
		}
		return leaves[i].Minute < leaves[j].Minute
	})

	var enqueued, pushFailed int
	for _, leaf := range leaves {
		if leaf.Hour > hour || (leaf.Hour == hour && leaf.Minute > minute) {
			break
		}

		won, err := e.store.ClaimLeaf(ctx, c.ID, plan.Day, leaf)
		if err != nil {
			return err
		}
		if !won {
			continue
		}
		atomic.AddInt64(&e.leavesClaimed, 1)

		n, err := e.enqueueLeaf(ctx, c, plan.Day, leaf)
		enqueued += n
		if errors.Is(err, recipients.ErrExhausted) {
			if err := e.markCompletionEligible(ctx, c); err != nil {
				return err
			}
			break
		}
		if errors.Is(err, ErrEnqueueFailed) {
			pushFailed += leaf.Count - n
		}
		if err != nil {
			e.log.Error("leaf dispatch", "campaign_id", c.ID, "hour", leaf.Hour, "minute", leaf.Minute, "error", err)
		}
	}

	// Escalate only on queue pushes that kept failing after retries. A short
	// or exhausted batch is a recipient-list condition, never a queue outage.
	if enqueued == 0 && pushFailed > 0 {
		return e.store.MarkCampaignFailed(ctx, c.ID, "all job enqueues failed; work queue unavailable")
	}
	if hour != p.CurrentHour {
		if err := e.store.SetCurrentHour(ctx, c.ID, hour); err != nil {
			return err
		}
	}

	// Final-day boundary: once every leaf of the horizon's last plan day is
	// claimed, the campaign is dispatch-complete and only waits out the
	// grace window.
	if !c.Config.Warmup.Enabled && plan.Day == c.Config.QuotaDays && pastLastLeaf(plan, hour, minute) {
		return e.markCompletionEligible(ctx, c)
	}
	return nil
}

// enqueueLeaf draws recipients and pushes one job per recipient. Returns how
// many jobs were enqueued.
func (e *Engine) enqueueLeaf(ctx context.Context, c *domain.Campaign, day int, leaf domain.Leaf) (int, error) {
	batch, err := e.source.NextBatch(ctx, c.ID, leaf.Count, c.Config.Warmup.Enabled)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	var lastErr error
	for _, r := range batch {
		job := &domain.SendJob{
			JobID:        uuid.New().String(),
			CampaignID:   c.ID,
			MessageID:    uuid.New().String(),
			Recipient:    r,
			SenderEmail:  leaf.Sender,
			Domain:       leaf.Domain,
			TemplateName: c.Config.TemplateName,
			Day:          day,
			Hour:         leaf.Hour,
			Minute:       leaf.Minute,
			EnqueuedAt:   e.now(),
			Attempt:      1,
		}
		err := e.retry.Do(ctx, func() error { return e.jobs.Enqueue(ctx, job) })
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		if err := e.store.IncrementSent(ctx, c.ID, enqueued); err != nil {
			return enqueued, err
		}
		atomic.AddInt64(&e.jobsEnqueued, int64(enqueued))
	}
	return enqueued, lastErr
}

func (e *Engine) markCompletionEligible(ctx context.Context, c *domain.Campaign) error {
	if c.CompletionEligibleAt != nil {
		return nil
	}
	at := e.now()
	e.log.Info("campaign dispatch complete, grace window started", "campaign_id", c.ID)
	if err := e.store.SetCompletionEligibleAt(ctx, c.ID, &at); err != nil {
		return err
	}
	c.CompletionEligibleAt = &at
	return nil
}

// planDayFor maps the elapsed calendar day onto a plan day. Warmup cycles
// the horizon so day quotaDays+1 reuses the day-1 plan shape.
func planDayFor(elapsed int, cfg domain.CampaignConfig) int {
	if cfg.Warmup.Enabled && elapsed > cfg.QuotaDays {
		return ((elapsed - 1) % cfg.QuotaDays) + 1
	}
	return elapsed
}

// elapsedDays returns the 1-based calendar day count since the campaign's
// start day, measured in UTC.
func elapsedDays(startDay string, now time.Time) (int, error) {
	start, err := time.ParseInLocation("2006-01-02", startDay, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse start day %q: %w", startDay, err)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(today.Sub(start).Hours()/24) + 1, nil
}

// pastLastLeaf reports whether (hour, minute) is at or past the plan's last
// non-zero minute bucket. Leaves() is grouped by domain and sender, so the
// latest bucket is found by scanning, not by taking the final element.
func pastLastLeaf(plan *domain.DailyPlan, hour, minute int) bool {
	leaves := plan.Leaves()
	if len(leaves) == 0 {
		return true
	}
	last := leaves[0]
	for _, l := range leaves[1:] {
		if l.Hour > last.Hour || (l.Hour == last.Hour && l.Minute > last.Minute) {
			last = l
		}
	}
	return hour > last.Hour || (hour == last.Hour && minute >= last.Minute)
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Ticks          int64 `json:"ticks"`
	LeavesClaimed  int64 `json:"leaves_claimed"`
	JobsEnqueued   int64 `json:"jobs_enqueued"`
	PlansGenerated int64 `json:"plans_generated"`
}

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Ticks:          atomic.LoadInt64(&e.ticks),
		LeavesClaimed:  atomic.LoadInt64(&e.leavesClaimed),
		JobsEnqueued:   atomic.LoadInt64(&e.jobsEnqueued),
		PlansGenerated: atomic.LoadInt64(&e.plansGenerated),
	}
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }
