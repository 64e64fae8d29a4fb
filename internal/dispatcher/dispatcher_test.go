package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/recipients"
	"github.com/ignite/campaign-engine/internal/store"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	plans     map[string]*domain.DailyPlan
	progress  map[string]*domain.Progress
	claimed   map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[string]*domain.Campaign),
		plans:     make(map[string]*domain.DailyPlan),
		progress:  make(map[string]*domain.Progress),
		claimed:   make(map[string]bool),
	}
}

func (m *memStore) addCampaign(c *domain.Campaign) {
	m.campaigns[c.ID] = c
	m.progress[c.ID] = &domain.Progress{CampaignID: c.ID, CurrentDay: 1}
}

func (m *memStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCampaignsByStatus(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCampaignStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memStore) MarkCampaignFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = domain.CampaignFailed
	c.ErrorMessage = &reason
	return nil
}

func (m *memStore) SetCompletionEligibleAt(_ context.Context, id string, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].CompletionEligibleAt = at
	return nil
}

func (m *memStore) GetPlan(_ context.Context, campaignID string, day int) (*domain.DailyPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[fmt.Sprintf("%s:%d", campaignID, day)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) SavePlan(_ context.Context, campaignID string, plan *domain.DailyPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[fmt.Sprintf("%s:%d", campaignID, plan.Day)] = plan
	return nil
}

func (m *memStore) GetProgress(_ context.Context, campaignID string) (*domain.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[campaignID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) MarkStarted(_ context.Context, campaignID, utcDay string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress[campaignID]
	if p.StartedOnUTCDay == "" {
		p.StartedOnUTCDay = utcDay
	}
	return nil
}

func (m *memStore) AdvanceDay(_ context.Context, campaignID string, day int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress[campaignID]
	p.CurrentDay = day
	p.CurrentHour = 0
	return nil
}

func (m *memStore) SetCurrentHour(_ context.Context, campaignID string, hour int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[campaignID].CurrentHour = hour
	return nil
}

func (m *memStore) IncrementSent(_ context.Context, campaignID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[campaignID].TotalSent += int64(n)
	return nil
}

func (m *memStore) ClaimLeaf(_ context.Context, campaignID string, day int, leaf domain.Leaf) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%d:%s:%s:%d:%d", campaignID, day, leaf.Domain, leaf.Sender, leaf.Hour, leaf.Minute)
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

// memSource holds a finite recipient list.
type memSource struct {
	mu     sync.Mutex
	emails []string
	next   int
	seeded bool
}

func (s *memSource) SeedCursor(_ context.Context, _ string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded {
		s.next = int(position)
		s.seeded = true
	}
	return nil
}

func (s *memSource) NextBatch(_ context.Context, _ string, n int, warmup bool) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.emails) == 0 {
		return nil, recipients.ErrExhausted
	}

	var out []domain.Recipient
	for i := 0; i < n; i++ {
		if warmup {
			out = append(out, domain.Recipient{ID: fmt.Sprintf("%d", s.next), Email: s.emails[s.next%len(s.emails)]})
			s.next++
			continue
		}
		if s.next >= len(s.emails) {
			break
		}
		out = append(out, domain.Recipient{ID: fmt.Sprintf("%d", s.next), Email: s.emails[s.next]})
		s.next++
	}
	if len(out) == 0 {
		return nil, recipients.ErrExhausted
	}
	return out, nil
}

func (s *memSource) Available(_ context.Context, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := len(s.emails) - s.next
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

type failQueue struct{}

func (failQueue) Enqueue(context.Context, *domain.SendJob) error { return errors.New("broker down") }
func (failQueue) Dequeue(context.Context) (*domain.SendJob, error) {
	return nil, queue.ErrEmpty
}
func (failQueue) Depth(context.Context) (int64, error) { return 0, nil }
func (failQueue) Close() error                         { return nil }

func testCampaign(id string) *domain.Campaign {
	return &domain.Campaign{
		ID:     id,
		Name:   "test",
		Status: domain.CampaignDraft,
		Config: domain.CampaignConfig{
			Domains: []domain.SendingDomainConfig{{Domain: "mail.example.com"}},
			Senders: []domain.SenderIdentity{
				{Email: "alerts@mail.example.com", Domain: "mail.example.com", Active: true},
			},
			BaseDailyTotal:         10,
			MaxEmailPercentage:     100,
			RandomizationIntensity: 0,
			QuotaDays:              2,
			TemplateName:           "welcome",
		},
	}
}

func manyEmails(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return out
}

func newTestEngine(st *memStore, src *memSource, q queue.Queue, at time.Time) *Engine {
	e := New(st, src, q, nil, Config{
		PollInterval:    time.Minute,
		CompletionGrace: 24 * time.Hour,
		EnqueueRetry:    queue.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	e.SetClock(func() time.Time { return at })
	return e
}

func TestStartCampaignTransitions(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	e := newTestEngine(st, src, q, time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC))

	require.NoError(t, e.StartCampaign(context.Background(), "camp-1"))
	assert.Equal(t, domain.CampaignRunning, st.campaigns["camp-1"].Status)

	// Day 1 plan exists before any tick.
	_, err := st.GetPlan(context.Background(), "camp-1", 1)
	require.NoError(t, err)

	// Starting again is an invalid transition.
	err = e.StartCampaign(context.Background(), "camp-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTickDispatchesAllDueLeaves(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)

	// End of day: every minute bucket is due.
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	e.Tick(ctx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), depth, "whole daily total enqueued")

	p, err := st.GetProgress(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.TotalSent)
}

func TestMidDayTickDispatchesEverySendersDueLeaves(t *testing.T) {
	st := newMemStore()
	c := testCampaign("camp-1")
	c.Config.BaseDailyTotal = 240
	c.Config.Senders = append(c.Config.Senders,
		domain.SenderIdentity{Email: "news@mail.example.com", Domain: "mail.example.com", Active: true})
	st.addCampaign(c)
	src := &memSource{emails: manyEmails(500)}
	q := queue.NewMemoryQueue(512, 10*time.Millisecond)

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))

	plan, err := st.GetPlan(ctx, "camp-1", 1)
	require.NoError(t, err)
	due := 0
	perSender := map[string]int{}
	for _, leaf := range plan.Leaves() {
		if leaf.Hour < 12 || (leaf.Hour == 12 && leaf.Minute == 0) {
			due += leaf.Count
			perSender[leaf.Sender] += leaf.Count
		}
	}
	require.Greater(t, due, 0)
	require.Len(t, perSender, 2)
	for sender, n := range perSender {
		require.Greater(t, n, 0, sender)
	}

	e.Tick(ctx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(due), depth, "due leaves of both senders dispatched in one tick")

	p, err := st.GetProgress(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(due), p.TotalSent)
}

func TestTickIsIdempotent(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	e.Tick(ctx)
	e.Tick(ctx)
	e.Tick(ctx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), depth, "re-ticking must not re-dispatch claimed leaves")
}

func TestPausedCampaignIsNotDispatched(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	require.NoError(t, e.PauseCampaign(ctx, "camp-1"))
	e.Tick(ctx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	require.NoError(t, e.ResumeCampaign(ctx, "camp-1"))
	e.Tick(ctx)
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), depth, "resume catches up the missed buckets")
}

func TestExhaustionStartsGraceThenCompletes(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(5)} // fewer than the daily total
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	day1 := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, day1)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	e.Tick(ctx)

	p, err := st.GetProgress(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.TotalSent)

	// Next day the list is empty; planning fails with exhaustion and the
	// grace window starts.
	day2 := day1.Add(24 * time.Hour)
	e.SetClock(func() time.Time { return day2 })
	e.Tick(ctx)
	require.NotNil(t, st.campaigns["camp-1"].CompletionEligibleAt)
	assert.Equal(t, domain.CampaignRunning, st.campaigns["camp-1"].Status)

	// Past the grace window the sweep completes the campaign.
	afterGrace := day2.Add(25 * time.Hour)
	e.SetClock(func() time.Time { return afterGrace })
	e.Tick(ctx)
	assert.Equal(t, domain.CampaignCompleted, st.campaigns["camp-1"].Status)
}

func TestQuotaHorizonCompletes(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(128, 10*time.Millisecond)
	day1 := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, day1)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	e.Tick(ctx)

	// Day past the 2-day horizon: dispatch is over, grace starts.
	day3 := day1.Add(48 * time.Hour)
	e.SetClock(func() time.Time { return day3 })
	e.Tick(ctx)
	require.NotNil(t, st.campaigns["camp-1"].CompletionEligibleAt)
}

func TestWarmupCyclesPlanDays(t *testing.T) {
	assert.Equal(t, 1, planDayFor(3, domain.CampaignConfig{QuotaDays: 2, Warmup: domain.WarmupMode{Enabled: true}}))
	assert.Equal(t, 2, planDayFor(4, domain.CampaignConfig{QuotaDays: 2, Warmup: domain.WarmupMode{Enabled: true}}))
	assert.Equal(t, 3, planDayFor(3, domain.CampaignConfig{QuotaDays: 2}))
}

func TestAllEnqueueFailuresFailCampaign(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, failQueue{}, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	e.Tick(ctx)

	c := st.campaigns["camp-1"]
	assert.Equal(t, domain.CampaignFailed, c.Status)
	require.NotNil(t, c.ErrorMessage)
}

type flakyQueue struct {
	*queue.MemoryQueue
	mu    sync.Mutex
	fails int
}

func (q *flakyQueue) Enqueue(ctx context.Context, job *domain.SendJob) error {
	q.mu.Lock()
	if q.fails > 0 {
		q.fails--
		q.mu.Unlock()
		return errors.New("transient broker error")
	}
	q.mu.Unlock()
	return q.MemoryQueue.Enqueue(ctx, job)
}

func TestEnqueueRetriesTransientFailures(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := &flakyQueue{MemoryQueue: queue.NewMemoryQueue(64, 10*time.Millisecond), fails: 1}
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	e.Tick(ctx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), depth, "retried pushes land every job")
	assert.Equal(t, domain.CampaignRunning, st.campaigns["camp-1"].Status)
}

func TestExhaustedBatchDoesNotFailCampaign(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1"))
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	e := newTestEngine(st, src, q, at)

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))

	// Drain the list between planning and dispatch; the first claimed leaf
	// sees an exhausted source.
	src.mu.Lock()
	src.next = len(src.emails)
	src.mu.Unlock()
	e.Tick(ctx)

	c := st.campaigns["camp-1"]
	assert.Equal(t, domain.CampaignRunning, c.Status, "exhaustion completes, never fails")
	assert.Nil(t, c.ErrorMessage)
	assert.NotNil(t, c.CompletionEligibleAt)
}

func TestWarmupStartsAtConfiguredCursor(t *testing.T) {
	st := newMemStore()
	c := testCampaign("camp-1")
	c.Config.Warmup = domain.WarmupMode{Enabled: true, CursorIndex: 2}
	st.addCampaign(c)
	src := &memSource{emails: []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	e := newTestEngine(st, src, q, time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC))

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))
	require.True(t, src.seeded, "start seeds the warmup cursor")

	batch, err := src.NextBatch(ctx, "camp-1", 3, true)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "c@x.com", batch[0].Email, "cycle begins at the configured index")
	assert.Equal(t, "d@x.com", batch[1].Email)
	assert.Equal(t, "e@x.com", batch[2].Email)
}

func TestRegeneratePlanRequiresActiveStatus(t *testing.T) {
	st := newMemStore()
	st.addCampaign(testCampaign("camp-1")) // still draft
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	e := newTestEngine(st, src, q, time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC))

	ctx := context.Background()
	_, err := e.RegeneratePlan(ctx, "camp-1", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	st.campaigns["camp-1"].Status = domain.CampaignCompleted
	_, err = e.RegeneratePlan(ctx, "camp-1", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	st.campaigns["camp-1"].Status = domain.CampaignPaused
	_, err = e.RegeneratePlan(ctx, "camp-1", 1)
	assert.NoError(t, err, "paused campaigns may regenerate")
}

func TestRegeneratePlanIsDeterministic(t *testing.T) {
	st := newMemStore()
	c := testCampaign("camp-1")
	c.Config.RandomizationIntensity = 0.5
	st.addCampaign(c)
	src := &memSource{emails: manyEmails(100)}
	q := queue.NewMemoryQueue(64, 10*time.Millisecond)
	e := newTestEngine(st, src, q, time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC))

	ctx := context.Background()
	require.NoError(t, e.StartCampaign(ctx, "camp-1"))

	first, err := st.GetPlan(ctx, "camp-1", 1)
	require.NoError(t, err)

	regen, err := e.RegeneratePlan(ctx, "camp-1", 1)
	require.NoError(t, err)
	assert.Equal(t, first.Domains, regen.Domains, "same config and seed reproduce the plan")
}

func TestElapsedDays(t *testing.T) {
	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	d, err := elapsedDays("2026-08-30", now)
	require.NoError(t, err)
	assert.Equal(t, 1, d)

	d, err = elapsedDays("2026-08-28", now)
	require.NoError(t, err)
	assert.Equal(t, 3, d)

	_, err = elapsedDays("yesterday", now)
	assert.Error(t, err)
}
