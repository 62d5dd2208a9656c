package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/apiserver/middleware"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/store"
)

// EventStore is the tenant-scoped view of the automation event queue.
type EventStore interface {
	Get(ctx context.Context, companyID, id int64) (*model.AutomationEvent, error)
	Requeue(ctx context.Context, companyID, id int64, at time.Time) (bool, error)
}

type EventHandler struct {
	events   EventStore
	outcomes store.OutcomeStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewEventHandler(events EventStore, outcomes store.OutcomeStore, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, outcomes: outcomes, logger: logger, now: time.Now}
}

type eventResponse struct {
	ID              int64       `json:"id"`
	EventType       string      `json:"event_type"`
	State           string      `json:"state"`
	WorkflowID      *int64      `json:"workflow_id,omitempty"`
	TaskID          int64       `json:"task_id"`
	WhoID           int64       `json:"who_id"`
	WhoType         string      `json:"who_type,omitempty"`
	Scheduled       string      `json:"scheduled"`
	Processed       *string     `json:"processed,omitempty"`
	PendingSince    *string     `json:"pending_since,omitempty"`
	PendingApproval bool        `json:"pending_approval"`
	Attempts        int         `json:"attempts"`
	LastError       string      `json:"last_error,omitempty"`
	TriggerData     model.JSONB `json:"trigger_data,omitempty"`
}

type outcomeResponse struct {
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Attempt    int    `json:"attempt"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

func toEventResponse(event *model.AutomationEvent) eventResponse {
	return eventResponse{
		ID:              event.ID,
		EventType:       event.EventType,
		State:           string(event.State()),
		WorkflowID:      event.WorkflowID,
		TaskID:          event.TaskID,
		WhoID:           event.WhoID,
		WhoType:         event.WhoType,
		Scheduled:       event.EventScheduled.UTC().Format(timeRFC3339Nano),
		Processed:       formatTime(event.TimeProcessed),
		PendingSince:    formatTime(event.PendingSince),
		PendingApproval: event.PendingApproval,
		Attempts:        event.Attempts,
		LastError:       event.LastError,
		TriggerData:     event.TriggerData,
	}
}

func (h *EventHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	event, err := h.events.Get(c.Request.Context(), middleware.CompanyID(c), id)
	if err != nil {
		h.lookupError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(event))
}

// Requeue returns a failed event to the queue, due immediately.
func (h *EventHandler) Requeue(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID := middleware.CompanyID(c)
	ctx := c.Request.Context()

	requeued, err := h.events.Requeue(ctx, companyID, id, h.now())
	if err != nil {
		h.logger.Error("failed to requeue event", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue event"})
		return
	}

	event, err := h.events.Get(ctx, companyID, id)
	if err != nil {
		h.lookupError(c, id, err)
		return
	}
	if !requeued {
		c.JSON(http.StatusConflict, gin.H{"error": "only failed events can be requeued", "state": string(event.State())})
		return
	}
	h.logger.Info("event requeued", zap.Int64("event_id", id), zap.Int64("company_id", companyID))
	c.JSON(http.StatusOK, toEventResponse(event))
}

func (h *EventHandler) Outcomes(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	query := store.OutcomeQuery{
		CompanyID: middleware.CompanyID(c),
		EventID:   id,
		Outcome:   strings.TrimSpace(c.Query("outcome")),
		Limit:     parseLimit(c.Query("limit"), 50, 500),
	}
	outcomes, err := h.outcomes.List(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("failed to list outcomes", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list outcomes"})
		return
	}

	items := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		items = append(items, outcomeResponse{
			Outcome:    o.Outcome,
			Reason:     o.Reason,
			Attempt:    o.Attempt,
			DurationMs: o.DurationMillis,
			Timestamp:  o.Timestamp.UTC().Format(timeRFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"event_id": id, "outcomes": items})
}

func (h *EventHandler) lookupError(c *gin.Context, id int64, err error) {
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	h.logger.Error("failed to load event", zap.Int64("event_id", id), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
}
