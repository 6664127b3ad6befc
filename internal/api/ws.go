/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/supermix/internal/auth"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/telemetry"
)

var defaultEventTypes = []events.EventType{
	events.EventNowPlaying,
	events.EventPlaybackState,
	events.EventQueueRefilled,
	events.EventQueueEmpty,
	events.EventTrackUnavailable,
}

// handleEvents streams events for the authenticated user over a WebSocket.
// Clients may narrow the feed with ?types=now_playing,feedback.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIActiveConnections.Inc()
	defer telemetry.APIActiveConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = defaultEventTypes
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					// Events are bus-wide; only forward this user's.
					if owner, ok := payload["user_id"].(string); ok && owner != userID {
						continue
					}
					if err := writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	known := map[events.EventType]bool{
		events.EventNowPlaying:       true,
		events.EventPlaybackState:    true,
		events.EventQueueRefilled:    true,
		events.EventQueueEmpty:       true,
		events.EventTrackUnavailable: true,
		events.EventFeedback:         true,
	}

	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		eventType := events.EventType(strings.TrimSpace(part))
		if known[eventType] {
			out = append(out, eventType)
		}
	}
	return out
}
