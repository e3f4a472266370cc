package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/talosprotocol/a2a-relay-go/internal/notify"
)

// EventsHandler streams frame-arrival notifications for one recipient over
// SSE. Delivery is best-effort: the stream wakes the recipient, ListFrames
// remains the source of truth for what was actually stored.
type EventsHandler struct {
	broker *notify.Broker
}

func NewEventsHandler(broker *notify.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "id")
	if recipientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recipient id required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(recipientID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("recipientId", recipientID).Msg("event stream established")

	h.sendEvent(w, flusher, notify.Event{
		Type: "connected",
		Data: json.RawMessage(fmt.Sprintf(`{"recipientId":%q}`, recipientID)),
	})

	ctx := r.Context()
	heartbeat := time.NewTicker(notify.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("recipientId", recipientID).Msg("event stream closed by client")
			return

		case <-client.Done:
			log.Info().Str("recipientId", recipientID).Msg("event stream closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("recipientId", recipientID).Msg("heartbeat failed, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event notify.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
