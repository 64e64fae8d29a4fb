package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/dispatcher"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/planner"
	"github.com/ignite/campaign-engine/internal/ratemodel"
	"github.com/ignite/campaign-engine/internal/reconciler"
	"github.com/ignite/campaign-engine/internal/store"
)

// Handlers holds the API dependencies.
type Handlers struct {
	store    *store.Store
	engine   *dispatcher.Engine
	events   EventSink
	importer RecipientImporter
	depth    DepthReporter
	log      *logger.Logger
}

// EventSink receives normalized webhook events. Satisfied by the reconciler.
type EventSink interface {
	Ingest(ctx context.Context, raw reconciler.RawEvent) error
}

// RecipientImporter loads recipient lists. Satisfied by recipients.Source.
type RecipientImporter interface {
	Import(ctx context.Context, campaignID string, emails []string) (int, error)
}

// DepthReporter reports queue depth for the stats endpoint.
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// NewHandlers wires the API layer.
func NewHandlers(st *store.Store, engine *dispatcher.Engine, events EventSink, importer RecipientImporter, depth DepthReporter) *Handlers {
	return &Handlers{
		store:    st,
		engine:   engine,
		events:   events,
		importer: importer,
		depth:    depth,
		log:      logger.With("api"),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createCampaignRequest struct {
	Name   string                `json:"name"`
	Config domain.CampaignConfig `json:"config"`
}

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := h.store.CreateCampaign(r.Context(), req.Name, req.Config)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type updateConfigRequest struct {
	Config domain.CampaignConfig `json:"config"`
}

// UpdateConfig replaces the campaign configuration and drops stored plans for
// future days so the next tick regenerates them under the new config. The
// current day's plan stays; dispatched leaves are never re-sent.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.UpdateCampaignConfig(r.Context(), id, req.Config); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.store.GetProgress(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if err := h.store.DeletePlansFrom(r.Context(), id, p.CurrentDay+1); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to invalidate plans")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}

// StartCampaign transitions a campaign to running.
func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.StartCampaign)
}

// PauseCampaign transitions a campaign to paused.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.PauseCampaign)
}

// ResumeCampaign transitions a paused campaign back to running.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.ResumeCampaign)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	err := fn(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, dispatcher.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, planner.ErrListExhausted):
		respondError(w, http.StatusConflict, "recipient list is empty")
	case errors.Is(err, ratemodel.ErrInvalidDistribution):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error("lifecycle command", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "command failed")
	}
}

type importRecipientsRequest struct {
	Emails []string `json:"emails"`
}

// ImportRecipients loads a recipient list for a campaign.
func (h *Handlers) ImportRecipients(w http.ResponseWriter, r *http.Request) {
	var req importRecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Emails) == 0 {
		respondError(w, http.StatusBadRequest, "emails is required")
		return
	}
	n, err := h.importer.Import(r.Context(), chi.URLParam(r, "id"), req.Emails)
	if err != nil {
		h.log.Error("import recipients", "error", err)
		respondError(w, http.StatusInternalServerError, "import failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// PlanToday returns the stored plan for the campaign's current day.
func (h *Handlers) PlanToday(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.store.GetProgress(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	day := p.CurrentDay
	if day < 1 {
		day = 1
	}

	plan, err := h.store.GetPlan(r.Context(), id, day)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no plan generated yet")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// PlanByDay returns the stored plan for ?day=N.
func (h *Handlers) PlanByDay(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(r.URL.Query().Get("day"))
	if err != nil || day < 1 {
		respondError(w, http.StatusBadRequest, "day must be a positive integer")
		return
	}
	plan, err := h.store.GetPlan(r.Context(), chi.URLParam(r, "id"), day)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no plan for that day")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// PlanSimulate generates a plan for ?day=N without persisting it.
func (h *Handlers) PlanSimulate(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(r.URL.Query().Get("day"))
	if err != nil || day < 1 {
		respondError(w, http.StatusBadRequest, "day must be a positive integer")
		return
	}
	plan, err := h.engine.SimulatePlan(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		h.planError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// PlanRegenerate rebuilds the stored plan for ?day=N (default: current day).
func (h *Handlers) PlanRegenerate(w http.ResponseWriter, r *http.Request) {
	day := 0
	if raw := r.URL.Query().Get("day"); raw != "" {
		var err error
		if day, err = strconv.Atoi(raw); err != nil || day < 1 {
			respondError(w, http.StatusBadRequest, "day must be a positive integer")
			return
		}
	}
	plan, err := h.engine.RegeneratePlan(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		h.planError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

func (h *Handlers) planError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, planner.ErrListExhausted):
		respondError(w, http.StatusConflict, "recipient list is empty")
	case errors.Is(err, ratemodel.ErrInvalidDistribution),
		errors.Is(err, planner.ErrNoActiveSenders),
		errors.Is(err, planner.ErrNoDomains):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error("plan request", "error", err)
		respondError(w, http.StatusInternalServerError, "plan request failed")
	}
}

// CampaignStats returns progress counters, engine counters, and queue depth.
func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.store.GetProgress(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}

	resp := map[string]interface{}{
		"progress": p,
		"engine":   h.engine.Stats(),
	}
	if h.depth != nil {
		if depth, err := h.depth.Depth(r.Context()); err == nil {
			resp["queue_depth"] = depth
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// CampaignEvents returns the most recent events for a campaign.
func (h *Handlers) CampaignEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.store.ListEvents(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []domain.CampaignEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

// webhookEvent is the provider payload shape. Providers vary in field
// naming; the aliases cover the ones we receive.
type webhookEvent struct {
	CampaignID string    `json:"campaign_id"`
	MessageID  string    `json:"message_id"`
	Type       string    `json:"type"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	Recipient  string    `json:"recipient"`
	Email      string    `json:"email"`
	Details    string    `json:"details"`
	Link       string    `json:"link"`
}

func (e webhookEvent) normalize() reconciler.RawEvent {
	typ := e.Type
	if typ == "" {
		typ = e.EventType
	}
	rcpt := e.Recipient
	if rcpt == "" {
		rcpt = e.Email
	}
	return reconciler.RawEvent{
		CampaignID: e.CampaignID,
		MessageID:  e.MessageID,
		Type:       typ,
		Timestamp:  e.Timestamp,
		Recipient:  rcpt,
		Details:    e.Details,
		Link:       e.Link,
	}
}

type webhookRequest struct {
	Events []webhookEvent `json:"events"`
}

// WebhookEvents accepts a batch (or single) provider event payload. The
// response is 200 even when individual events are dropped; providers retry
// non-2xx deliveries forever and a malformed event never heals.
func (h *Handlers) WebhookEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var batch webhookRequest
	if err := json.Unmarshal(body, &batch); err != nil || len(batch.Events) == 0 {
		// Single-event form.
		var single webhookEvent
		if err := json.Unmarshal(body, &single); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		batch.Events = []webhookEvent{single}
	}

	accepted := 0
	for _, ev := range batch.Events {
		if err := h.events.Ingest(r.Context(), ev.normalize()); err != nil {
			h.log.Error("event ingest", "campaign_id", ev.CampaignID, "error", err)
			respondError(w, http.StatusInternalServerError, "event storage failed")
			return
		}
		accepted++
	}
	respondJSON(w, http.StatusOK, map[string]int{"received": accepted})
}
