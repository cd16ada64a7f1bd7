package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"shifttrack.service/internal/core"
	"shifttrack.service/internal/queue"
)

// WebhookHandler records inbound Telegram updates. The webhook does no
// business work: enqueue durably, acknowledge immediately, let the queue
// worker do the rest.
type WebhookHandler struct {
	Queue       *queue.Queue
	Secret      string
	HeaderToken string
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["secret"] != h.Secret {
		http.NotFound(w, r)
		return
	}
	if h.HeaderToken != "" && r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != h.HeaderToken {
		http.NotFound(w, r)
		return
	}

	var update struct {
		UpdateID *int64 `json:"update_id"`
	}
	body := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &update); err != nil || update.UpdateID == nil {
		http.Error(w, "Not a telegram update", http.StatusBadRequest)
		return
	}

	if _, err := h.Queue.Enqueue(r.Context(), *update.UpdateID, body); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to enqueue update")
		http.Error(w, "Service error recording update", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

// TickConfig bounds how much work one tick may do.
type TickConfig struct {
	InternalSecret        string
	QueueBatchLimit       int
	MaxExpirePending      int
	MaxAutoClose          int
	PhotoRetentionDays    int
	EventLogRetentionDays int
}

// TickHandler is the externally triggered maintenance pass: expire stale
// pending actions, process due queue entries, auto-close overdue shifts,
// and (in daily mode) run the retention purges.
type TickHandler struct {
	Pending *core.PendingActionService
	Shifts  *core.ShiftService
	Queue   *queue.Queue
	Clock   core.Clock
	Config  TickConfig

	// Notify is called with sweep-closed shifts; nil disables notices.
	Notify func(ctx context.Context, notices []core.AutoCloseNotice)
}

func (h *TickHandler) Tick(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}

	ctx := r.Context()
	mode := "regular"
	if r.URL.Query().Get("mode") == "daily" {
		mode = "daily"
	}
	now := h.Clock.Now()

	expired, err := h.Pending.ExpirePendingActions(ctx, now, h.Config.MaxExpirePending)
	if err != nil {
		h.fail(w, r, "expire pending actions", err)
		return
	}

	batch, err := h.Queue.ProcessBatch(ctx, h.Config.QueueBatchLimit, now)
	if err != nil {
		h.fail(w, r, "process update queue", err)
		return
	}

	notices, err := h.Shifts.AutoCloseOverdueShifts(ctx, now, h.Config.MaxAutoClose)
	if err != nil {
		h.fail(w, r, "auto-close shifts", err)
		return
	}
	if h.Notify != nil {
		h.Notify(ctx, notices)
	}

	var photosPurged, eventsPurged int64
	if mode == "daily" {
		photosPurged, err = h.Shifts.PurgeOldPhotos(ctx, now, h.Config.PhotoRetentionDays, h.Config.MaxExpirePending)
		if err != nil {
			h.fail(w, r, "purge photos", err)
			return
		}
		eventsPurged, err = h.Shifts.PurgeEventLog(ctx, now, h.Config.EventLogRetentionDays, h.Config.MaxExpirePending)
		if err != nil {
			h.fail(w, r, "purge event log", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"mode":           mode,
		"expiredPending": expired,
		"queue":          batch,
		"autoClosed":     len(notices),
		"photosPurged":   photosPurged,
		"eventsPurged":   eventsPurged,
		"ranAt":          now.Format(time.RFC3339),
	})
}

func (h *TickHandler) authorized(r *http.Request) bool {
	if h.Config.InternalSecret == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok && bearer == h.Config.InternalSecret {
		return true
	}
	return r.Header.Get("X-Internal-Secret") == h.Config.InternalSecret
}

func (h *TickHandler) fail(w http.ResponseWriter, r *http.Request, step string, err error) {
	log.Ctx(r.Context()).Error().Err(err).Str("step", step).Msg("Internal tick failed")
	respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
