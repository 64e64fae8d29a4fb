package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
)

// memStore is an in-memory Store for reconciler tests.
type memStore struct {
	events   map[string]*domain.CampaignEvent
	counters map[string]int64
	progress domain.Progress
	campaign domain.Campaign
}

func newMemStore() *memStore {
	return &memStore{
		events:   make(map[string]*domain.CampaignEvent),
		counters: make(map[string]int64),
		progress: domain.Progress{CampaignID: "camp-1"},
		campaign: domain.Campaign{ID: "camp-1", Status: domain.CampaignRunning},
	}
}

func (m *memStore) InsertEvent(_ context.Context, ev *domain.CampaignEvent) (bool, error) {
	if _, dup := m.events[ev.DedupKey]; dup {
		return false, nil
	}
	m.events[ev.DedupKey] = ev
	return true, nil
}

func (m *memStore) AddCounter(_ context.Context, _, column string, delta int64) error {
	m.counters[column] += delta
	if column == "total_bounced" {
		m.progress.TotalBounced += delta
	}
	return nil
}

func (m *memStore) GetProgress(_ context.Context, _ string) (*domain.Progress, error) {
	p := m.progress
	return &p, nil
}

func (m *memStore) GetCampaign(_ context.Context, _ string) (*domain.Campaign, error) {
	c := m.campaign
	return &c, nil
}

func (m *memStore) PauseCampaignWithReason(_ context.Context, _ string, reason string) error {
	m.campaign.Status = domain.CampaignPaused
	m.campaign.ErrorMessage = &reason
	return nil
}

func deliveryEvent(messageID string) RawEvent {
	return RawEvent{
		CampaignID: "camp-1",
		MessageID:  messageID,
		Type:       "Delivered",
		Timestamp:  time.Now(),
		Recipient:  "user@example.com",
	}
}

func TestIngestCountsOnce(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, 0)
	ctx := context.Background()

	ev := deliveryEvent("msg-1")
	require.NoError(t, r.Ingest(ctx, ev))

	// Provider redelivery: same campaign, message, and type.
	ev.Timestamp = ev.Timestamp.Add(time.Minute)
	require.NoError(t, r.Ingest(ctx, ev))

	assert.Equal(t, int64(1), store.counters["total_delivered"])
	assert.Len(t, store.events, 1)
}

func TestIngestDistinctTypesBothCount(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, 0)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, deliveryEvent("msg-1")))

	open := deliveryEvent("msg-1")
	open.Type = "open"
	require.NoError(t, r.Ingest(ctx, open))

	assert.Equal(t, int64(1), store.counters["total_delivered"])
	assert.Equal(t, int64(1), store.counters["total_opened"])
}

func TestIngestSendIsAuditOnly(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, 0)

	send := deliveryEvent("msg-1")
	send.Type = "send"
	require.NoError(t, r.Ingest(context.Background(), send))

	assert.Len(t, store.events, 1, "event recorded")
	assert.Empty(t, store.counters, "no counter for provider send echo")
}

func TestIngestDropsMalformed(t *testing.T) {
	store := newMemStore()
	r := New(store, 0, 0)
	ctx := context.Background()

	bad := deliveryEvent("msg-1")
	bad.Type = "mystery"
	require.NoError(t, r.Ingest(ctx, bad), "unknown type is dropped, not an error")

	noID := deliveryEvent("")
	require.NoError(t, r.Ingest(ctx, noID))

	assert.Empty(t, store.events)
}

func TestBounceBreakerPausesCampaign(t *testing.T) {
	store := newMemStore()
	store.progress.TotalSent = 100
	store.progress.TotalBounced = 5 // next bounce takes the rate to 6%
	r := New(store, 0.05, 50)

	bounce := deliveryEvent("msg-9")
	bounce.Type = "bounce"
	require.NoError(t, r.Ingest(context.Background(), bounce))

	assert.Equal(t, domain.CampaignPaused, store.campaign.Status)
	require.NotNil(t, store.campaign.ErrorMessage)
	assert.Contains(t, *store.campaign.ErrorMessage, "bounce rate")
}

func TestBounceBreakerRespectsMinSentFloor(t *testing.T) {
	store := newMemStore()
	store.progress.TotalSent = 10
	store.progress.TotalBounced = 9
	r := New(store, 0.05, 50)

	bounce := deliveryEvent("msg-9")
	bounce.Type = "bounce"
	require.NoError(t, r.Ingest(context.Background(), bounce))

	assert.Equal(t, domain.CampaignRunning, store.campaign.Status, "too few sends to judge")
}
